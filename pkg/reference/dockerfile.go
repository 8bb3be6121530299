package reference

import (
	"bufio"
	"bytes"
	"strings"
)

// DockerfileImage is a base image named by a FROM instruction
type DockerfileImage struct {
	Image string
	Line  int
}

// DockerfileBaseImages returns the external base images of a Dockerfile in
// order. Build stages referenced by name, scratch and images built from ARG
// values are left out.
func DockerfileBaseImages(content []byte) []DockerfileImage {
	var images []DockerfileImage
	stages := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(content))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !strings.EqualFold(fields[0], "FROM") {
			continue
		}

		args := fields[1:]
		for len(args) > 0 && strings.HasPrefix(args[0], "--") {
			args = args[1:]
		}
		if len(args) == 0 {
			continue
		}

		image := args[0]
		external := !strings.EqualFold(image, "scratch") && !stages[strings.ToLower(image)] && !strings.Contains(image, "$")
		if len(args) >= 3 && strings.EqualFold(args[1], "AS") {
			stages[strings.ToLower(args[2])] = true
		}
		if !external {
			continue
		}
		images = append(images, DockerfileImage{Image: image, Line: lineNo})
	}
	return images
}
