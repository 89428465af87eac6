package server

import "github.com/sadlil/gologger"

var Logger gologger.GoLogger

func SetLogger(fileLog string) {
	Logger = gologger.GetLogger(gologger.FILE, fileLog)
	Logger.Info("Start program")
}
