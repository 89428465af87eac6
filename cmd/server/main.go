package main

import (
	"flag"
	"fmt"

	"github.com/emomint/backend/internal/server"
)

func main() {
	mode := flag.String("mode", "all", "api, worker or all")
	logFile := flag.String("log", "emomint.log", "log file path")
	flag.Parse()
	server.SetLogger(*logFile)
	switch *mode {
	case "api":
		server.ApiInit()
	case "worker":
		server.WorkerInit()
	case "all":
		go server.WorkerInit()
		server.ApiInit()
	default:
		fmt.Println("unknown mode:", *mode)
	}
}
