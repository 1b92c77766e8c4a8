package log

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	mlerrors "github.com/YuminosukeSato/mltrack/pkg/errors"
)

// ErrFmtHandler は error 属性を展開する slog ハンドラー
// cockroachdb/errors のスタックトレースと、トラッキングサーバーのエラーであれば
// エンドポイント・ステータス・エラーコードを属性として追加する
type ErrFmtHandler struct {
	handler slog.Handler
}

// WrapByErrFmtHandler は handler を ErrFmtHandler で包む
func WrapByErrFmtHandler(handler slog.Handler) slog.Handler {
	return &ErrFmtHandler{handler: handler}
}

func (eh *ErrFmtHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return eh.handler.Enabled(ctx, l)
}

func (eh *ErrFmtHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	r.Attrs(func(attr slog.Attr) bool {
		if attr.Key != ErrAttrKey {
			return true
		}
		err, _ = attr.Value.Any().(error)
		return false
	})
	if err != nil {
		r.AddAttrs(errorAttrs(err)...)
	}
	return eh.handler.Handle(ctx, r)
}

func (eh *ErrFmtHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithAttrs(attrs)}
}

func (eh *ErrFmtHandler) WithGroup(g string) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithGroup(g)}
}

// errorAttrs は err から追加属性を組み立てる
func errorAttrs(err error) []slog.Attr {
	var attrs []slog.Attr
	if st := extractStacktrace(err); st != "" {
		attrs = append(attrs, slog.String(StacktraceAttrKey, st))
	}
	var te *mlerrors.TrackingError
	if errors.As(err, &te) {
		attrs = append(attrs,
			slog.String(EndpointKey, te.Endpoint),
			slog.Int(StatusCodeKey, te.StatusCode),
		)
		if te.Code != "" {
			attrs = append(attrs, slog.String(ErrorCodeKey, te.Code))
		}
	}
	return attrs
}

func extractStacktrace(err error) string {
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}
