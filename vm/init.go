// Package vm is the control plane's core: the authoritative registry of
// virtual machine records and the lifecycle state machine driving them.
package vm

import (
	"github.com/uptrace/opentelemetry-go-extra/otelzap"

	"gitlab.com/glidex/control-plane/internal/logger"
)

var zlog otelzap.Logger

func init() {
	zlog = logger.OtelZapLogger("vm")
}
