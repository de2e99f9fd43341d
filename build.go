//go:build ignore

// Builds the daemon and the control tool into bin/.
//
//	go run build.go [GOOS/GOARCH]
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

func main() {
	// output directory
	outputDir := "bin"

	env := os.Environ()
	if len(os.Args) > 1 {
		goos, goarch, ok := strings.Cut(os.Args[1], "/")
		if !ok {
			fmt.Printf("Target must be GOOS/GOARCH, got %q\n", os.Args[1])
			os.Exit(1)
		}
		env = append(env, "GOOS="+goos, "GOARCH="+goarch, "CGO_ENABLED=0")
		outputDir = filepath.Join(outputDir, goos+"_"+goarch)
	}

	// create the output directory
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Printf("Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	// binaries to build
	modules := []struct {
		name   string
		path   string
		output string
	}{
		{"screensync", "./cmd/screensync", "screensync"},
		{"screenctl", "./cmd/screenctl", "screenctl"},
	}

	for _, mod := range modules {
		outputPath := filepath.Join(outputDir, mod.output)

		fmt.Printf("Building %s -> %s\n", mod.name, outputPath)

		cmd := exec.Command("go", "build", "-trimpath", "-o", outputPath, mod.path)
		cmd.Env = env
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			fmt.Printf("Error building %s: %v\n", mod.name, err)
			os.Exit(1)
		}

		fmt.Printf("Successfully built %s\n", mod.name)
	}

	fmt.Println("All builds completed successfully!")
}
