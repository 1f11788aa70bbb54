// Package mod holds the small http.HandlerFunc wrappers layered around
// the caching RoundTripper chain: access logging and request-metric
// attachment.
//
// Grounded on the teacher's server/mod package (accesslog.go,
// field.go, field_buffer.go, wrap.go), narrowed to drop the pprof
// handler (the server registers no pprof routes) and the
// log-encryption option (no compliance requirement in scope here).
package mod

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/devojony/mediacache/conf"
	"github.com/devojony/mediacache/contrib/log"
	"github.com/devojony/mediacache/metrics"
	"github.com/devojony/mediacache/pkg/xhttp"
)

// HandleAccessLog wraps next so every request gets a RequestMetric
// attached to its context (for the X-Cache header and /metrics) and, if
// opt.Enabled, an access-log line written on completion.
func HandleAccessLog(opt *conf.AccessLog, next http.HandlerFunc) http.HandlerFunc {
	if opt == nil || !opt.Enabled {
		log.Infof("access-log is turned off")
		return wrap(next)
	}

	if opt.Path == "" {
		log.Warnf("access-log path is empty, access log is turned off")
		return wrap(next)
	}

	logWriter := newAccessLog(opt.Path)

	return func(w http.ResponseWriter, req *http.Request) {
		fillRequest(req)
		req, _ = metrics.WithRequestMetric(req)

		recorder := xhttp.NewResponseRecorder(w)
		defer func() {
			logWriter.Info(string(WithNormalFields(req, recorder)))
		}()

		next(recorder, req)
	}
}

func newAccessLog(path string) *zap.Logger {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		LocalTime:  true,
	}

	cfg := zap.NewProductionConfig().EncoderConfig
	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = func(time.Time, zapcore.PrimitiveArrayEncoder) {}
	cfg.EncodeLevel = func(zapcore.Level, zapcore.PrimitiveArrayEncoder) {}

	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.AddSync(f),
		zapcore.InfoLevel,
	))
}
