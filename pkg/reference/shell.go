package reference

import (
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ScriptImage is a container image started by a shell command
type ScriptImage struct {
	Image string
	// Line is 1-based within the script
	Line int
}

const expressionPlaceholder = "__PINWALK_EXPR__"

var expressionRegex = regexp.MustCompile(`\$\{\{.*?\}\}`)

// docker run/pull flags that consume the following argument
var dockerValueFlags = map[string]bool{
	"-v": true, "--volume": true,
	"-e": true, "--env": true, "--env-file": true,
	"-w": true, "--workdir": true,
	"-p": true, "--publish": true,
	"-u": true, "--user": true,
	"-l": true, "--label": true,
	"-m": true, "--memory": true,
	"-h": true, "--hostname": true,
	"--name": true, "--entrypoint": true, "--network": true,
	"--platform": true, "--mount": true, "--cpus": true,
	"--add-host": true, "--cap-add": true, "--cap-drop": true,
	"--device": true, "--dns": true, "--gpus": true,
	"--log-driver": true, "--pull": true, "--restart": true,
	"--security-opt": true, "--shm-size": true, "--tmpfs": true,
	"--ulimit": true, "--volumes-from": true, "--cidfile": true,
}

// Parse parses a shell script and returns a syntax tree
func Parse(script string) (*syntax.File, error) {
	parser := syntax.NewParser(syntax.KeepComments(false))
	return parser.Parse(strings.NewReader(script), "")
}

// DockerImagesInScript finds images started by `docker run` or `docker pull`.
// Workflow expressions are masked before parsing and images that depend on
// them or on shell variables are skipped.
func DockerImagesInScript(script string) ([]ScriptImage, error) {
	if !strings.Contains(script, "docker") {
		return nil, nil
	}

	masked := expressionRegex.ReplaceAllString(script, expressionPlaceholder)
	file, err := Parse(masked)
	if err != nil {
		return nil, err
	}

	var images []ScriptImage
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		if image, ok := dockerImageArg(call.Args); ok {
			images = append(images, image)
		}
		return true
	})
	return images, nil
}

func dockerImageArg(args []*syntax.Word) (ScriptImage, bool) {
	i := 0
	if v, _ := wordValue(args[i]); v == "sudo" {
		i++
	}
	if i >= len(args) {
		return ScriptImage{}, false
	}
	if v, _ := wordValue(args[i]); v != "docker" {
		return ScriptImage{}, false
	}
	i++

	// docker container run / docker image pull
	if i < len(args) {
		if v, _ := wordValue(args[i]); v == "container" || v == "image" {
			i++
		}
	}
	if i >= len(args) {
		return ScriptImage{}, false
	}
	if v, _ := wordValue(args[i]); v != "run" && v != "pull" && v != "create" {
		return ScriptImage{}, false
	}
	i++

	for ; i < len(args); i++ {
		v, literal := wordValue(args[i])
		if literal && strings.HasPrefix(v, "-") {
			if !strings.Contains(v, "=") && dockerValueFlags[v] {
				i++
			}
			continue
		}
		if !literal || v == "" || strings.Contains(v, expressionPlaceholder) {
			return ScriptImage{}, false
		}
		return ScriptImage{Image: v, Line: int(args[i].Pos().Line())}, true
	}
	return ScriptImage{}, false
}

// wordValue returns the literal value of a word and whether it is fully static
func wordValue(w *syntax.Word) (string, bool) {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return "", false
				}
				sb.WriteString(lit.Value)
			}
		default:
			return "", false
		}
	}
	return sb.String(), true
}
