package main

import (
	"lloydsdigest/cmd/handlers"
	"lloydsdigest/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
