package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

// TestLoggerInterface tests the Logger interface implementation
func TestLoggerInterface(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationLogData)
	testLogger.Warn("warning message", ErrorCodeKey, ErrorNoActiveRun)
	testLogger.Error("error message", fmt.Errorf("test error"), EndpointKey, "runs/log-metric")

	if buffer.String() == "" {
		t.Fatal("Expected log output, got empty string")
	}

	for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
		if !testLogger.ContainsMessage(msg) {
			t.Errorf("%q not found in output", msg)
		}
	}

	if !testLogger.ContainsField("key1", "value1") {
		t.Error("Expected field key1=value1 not found")
	}
	if !testLogger.ContainsField("number", 42.0) { // JSON unmarshaling converts numbers to float64
		t.Error("Expected field number=42 not found")
	}
	if !testLogger.ContainsField(ErrAttrKey, "test error") {
		t.Error("Leading error should be rendered as the error field")
	}
	if !testLogger.ContainsField(EndpointKey, "runs/log-metric") {
		t.Error("Fields after a leading error should be kept")
	}
}

// TestLoggerWith tests the With method for context-aware logging
func TestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	contextLogger := testLogger.With(
		ExperimentIDKey, "7",
		RunIDKey, "abc123",
	)
	contextLogger.Info("metric logged", MetricKeyKey, "Accuracy", MetricValueKey, 0.78)

	if !testLogger.ContainsField(ExperimentIDKey, "7") {
		t.Error("Experiment context not found")
	}
	if !testLogger.ContainsField(RunIDKey, "abc123") {
		t.Error("Run context not found")
	}
	if !testLogger.ContainsField(MetricValueKey, 0.78) {
		t.Error("Metric value not found")
	}
}

// TestLoggerEnabled tests the Enabled method
func TestLoggerEnabled(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)
	ctx := context.Background()

	if !testLogger.Enabled(ctx, LevelInfo) {
		t.Error("Logger should be enabled for Info level")
	}
	if !testLogger.Enabled(ctx, LevelError) {
		t.Error("Logger should be enabled for Error level")
	}
	if testLogger.Enabled(ctx, LevelDebug) {
		t.Error("Logger should not be enabled for Debug level")
	}

	testLogger.Debug("this should not appear")
	testLogger.Info("this should appear")

	if testLogger.ContainsMessage("this should not appear") {
		t.Error("Debug message should not appear when level is Info")
	}
	if !testLogger.ContainsMessage("this should appear") {
		t.Error("Info message should appear when level is Info")
	}
}

// TestLoggerProviderIntegration tests the LoggerProvider interface
func TestLoggerProviderIntegration(t *testing.T) {
	provider, buffer := NewTestLoggerProvider(LevelDebug)

	provider.GetLogger().Info("provider test message")
	provider.GetLoggerWithName("tracking").Info("named logger message")

	lines := buffer.String()
	if !strings.Contains(lines, "provider test message") {
		t.Error("Provider test message not found")
	}
	if !strings.Contains(lines, "named logger message") {
		t.Error("Named logger message not found")
	}
	if !provider.TestLogger().ContainsField(ComponentKey, "tracking") {
		t.Error("Component name not found in named logger output")
	}
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelInfo).With(RunIDKey, "r-1")

	logger.Debug("hidden")
	logger.Info("run started", RunNameKey, "user_name")
	logger.Error("update failed",
		errors.NewTrackingError("UpdateRun", "runs/update", 500, errors.CodeInternalError, "db locked"),
		StatusCodeKey, 500,
	)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}

	var info map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &info); err != nil {
		t.Fatal(err)
	}
	if info["level"] != "info" || info["message"] != "run started" {
		t.Errorf("unexpected info entry: %v", info)
	}
	if info[RunIDKey] != "r-1" || info[RunNameKey] != "user_name" {
		t.Errorf("missing context fields: %v", info)
	}

	var errEntry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &errEntry); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(fmt.Sprint(errEntry["error"]), "db locked") {
		t.Errorf("error field missing: %v", errEntry)
	}
	detail, ok := errEntry["error_detail"].(map[string]interface{})
	if !ok || detail["error_code"] != errors.CodeInternalError {
		t.Errorf("structured error detail missing: %v", errEntry)
	}
	if errEntry[StatusCodeKey] != 500.0 {
		t.Errorf("status code missing: %v", errEntry)
	}
}

func TestZerologLoggerEnabled(t *testing.T) {
	logger := NewZerologLogger(&bytes.Buffer{}, LevelWarn)
	ctx := context.Background()

	if logger.Enabled(ctx, LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Enabled(ctx, LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestGlobalProviderAndWarnings(t *testing.T) {
	provider, _ := NewTestLoggerProvider(LevelDebug)
	prev := SetProvider(provider)
	defer SetProvider(prev)

	GetLoggerWithName("run").Info("from global")
	errors.Warn(errors.NewUndefinedMetricWarning("npv", "no predicted negatives", 0))

	tl := provider.TestLogger()
	if !tl.ContainsField(ComponentKey, "run") {
		t.Error("named global logger should carry its component")
	}
	if !tl.ContainsField(ComponentKey, "warnings") {
		t.Error("warnings should be routed to the global provider")
	}
	if !tl.ContainsField(ErrorTypeKey, "*errors.UndefinedMetricWarning") {
		t.Error("warning type should be recorded")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) err = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// TestConcurrentLogging tests thread safety of logging
func TestConcurrentLogging(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	const numGoroutines, messagesPerGoroutine = 4, 5
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < messagesPerGoroutine; j++ {
				testLogger.Info(fmt.Sprintf("goroutine %d message %d", id, j), GenerationKey, j)
			}
		}(i)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	if err != nil {
		t.Fatalf("Failed to parse log entries: %v", err)
	}
	if len(entries) != numGoroutines*messagesPerGoroutine {
		t.Errorf("Expected %d log entries, got %d", numGoroutines*messagesPerGoroutine, len(entries))
	}
}

// TestErrFmtHandlerExpandsTrackingErrors はトラッキングエラーの属性展開を確認する
func TestErrFmtHandlerExpandsTrackingErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapByErrFmtHandler(slog.NewJSONHandler(&buf, nil)))

	err := errors.Wrap(
		errors.NewTrackingError("tracking.GetRun", "runs/get", 404, "RESOURCE_DOES_NOT_EXIST", "Run 'abc' not found"),
		"latest run")
	logger.Error("lookup failed", ErrAttr(err))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry[EndpointKey] != "runs/get" {
		t.Errorf("%s = %v", EndpointKey, entry[EndpointKey])
	}
	if entry[StatusCodeKey] != 404.0 {
		t.Errorf("%s = %v", StatusCodeKey, entry[StatusCodeKey])
	}
	if entry[ErrorCodeKey] != "RESOURCE_DOES_NOT_EXIST" {
		t.Errorf("%s = %v", ErrorCodeKey, entry[ErrorCodeKey])
	}

	buf.Reset()
	logger.Info("no error here", "k", "v")
	if strings.Contains(buf.String(), EndpointKey) {
		t.Errorf("records without an error must not be expanded: %s", buf.String())
	}
}

// BenchmarkLogging benchmarks logging performance
func BenchmarkLogging(b *testing.B) {
	logger := NewZerologLogger(&bytes.Buffer{}, LevelInfo)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message",
			"iteration", i,
			OperationKey, OperationPredict,
			SamplesKey, 1000,
		)
	}
}
