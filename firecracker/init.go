// Package firecracker supervises one Firecracker process per VM and speaks
// the Firecracker API over the per-VM Unix socket. Supervision is strictly
// process-per-VM so one misbehaving VM cannot affect another's control
// channel.
package firecracker

import (
	"github.com/uptrace/opentelemetry-go-extra/otelzap"

	"gitlab.com/glidex/control-plane/internal/logger"
)

var zlog otelzap.Logger

func init() {
	zlog = logger.OtelZapLogger("firecracker")
}
