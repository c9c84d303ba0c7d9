// Package console multiplexes a VM's serial console between a persistent
// log file and any number of concurrently attached clients on a per-VM Unix
// socket.
package console

import (
	"github.com/uptrace/opentelemetry-go-extra/otelzap"

	"gitlab.com/glidex/control-plane/internal/logger"
)

var zlog otelzap.Logger

func init() {
	zlog = logger.OtelZapLogger("console")
}
