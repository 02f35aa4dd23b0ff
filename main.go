package main

import (
	"os"

	"github.com/Zakki0925224/myos-x86-64/internal/task"
)

func main() {
	os.Exit(task.Main())
}
