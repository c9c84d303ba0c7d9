package main

//	@title			GlideX Control Plane
//	@version		0.1.0
//	@description	A control plane for Firecracker microVMs: lifecycle, serial consoles and console logs.

// @host		localhost:8080
// @BasePath	/api/v1

import (
	"gitlab.com/glidex/control-plane/cmd"
)

func main() {
	cmd.Execute()
}
