package cmd

import (
	"github.com/uptrace/opentelemetry-go-extra/otelzap"

	"gitlab.com/glidex/control-plane/internal/logger"
)

var zlog otelzap.Logger

func init() {
	zlog = logger.OtelZapLogger("cmd")
}
