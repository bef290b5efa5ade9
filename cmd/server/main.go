package main

import (
	"github.com/OFFIS-RIT/biorel/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/biorel/backend/internal/server"
	"github.com/OFFIS-RIT/biorel/backend/internal/util"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger("server")

	server.Init()
}
