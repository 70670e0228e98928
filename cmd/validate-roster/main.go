package main

import (
	"fmt"
	"os"

	"github.com/blockedby/channel-archiver/internal/config"
)

func main() {
	paths := os.Args[1:]
	if len(paths) == 0 {
		paths = []string{"./channels.yaml"}
	}

	failed := false
	for _, path := range paths {
		channels, warnings, err := config.LoadChannels(path)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", path, err)
			failed = true
			continue
		}
		for _, w := range warnings {
			fmt.Printf("⚠️  %s: %v\n", path, w)
		}
		fmt.Printf("✅ %s: %d channel(s)\n", path, len(channels))
	}

	if failed {
		os.Exit(1)
	}
}
