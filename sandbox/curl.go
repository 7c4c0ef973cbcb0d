package sandbox

import (
	"context"
	"fmt"
	"strings"
)

// parsedCurl is the subset of curl's flag surface this sandbox understands.
// Anything else (combined short flags like -sSL, long options we don't
// recognize) is accepted silently and ignored, per spec.
type parsedCurl struct {
	url     string
	method  string
	headers map[string]string
	body    []byte
	outFile string
}

// parseCurlArgs extracts url, -X, repeated -H, -d, -o from an already-split
// argv. Unlike the interactive shell's line tokenizer, curl's argv arrives
// pre-split from the caller, so there is no quoting to resolve here.
func parseCurlArgs(args []string) (*parsedCurl, error) {
	p := &parsedCurl{headers: make(map[string]string)}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-X" || arg == "--request":
			i++
			if i >= len(args) {
				return nil, fmt.Errorf("curl: -X requires a value")
			}
			p.method = args[i]
		case arg == "-H" || arg == "--header":
			i++
			if i >= len(args) {
				return nil, fmt.Errorf("curl: -H requires a value")
			}
			k, v, ok := strings.Cut(args[i], ":")
			if !ok {
				return nil, fmt.Errorf("curl: malformed header %q", args[i])
			}
			p.headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		case arg == "-d" || arg == "--data":
			i++
			if i >= len(args) {
				return nil, fmt.Errorf("curl: -d requires a value")
			}
			p.body = []byte(args[i])
		case arg == "-o" || arg == "--output":
			i++
			if i >= len(args) {
				return nil, fmt.Errorf("curl: -o requires a value")
			}
			p.outFile = args[i]
		case strings.HasPrefix(arg, "-"):
			// Unrecognized flag (combined short flags like -sSL, or any
			// other long option): accepted silently.
		default:
			p.url = arg
		}
	}
	if p.method == "" {
		if p.body != nil {
			p.method = "POST"
		} else {
			p.method = "GET"
		}
	}
	return p, nil
}

// execCurl services a curl invocation entirely in the host: it never
// reaches the guest toolbox. Output is stdout bytes by default, or a file
// write inside WD when -o is given; "HTTP <status>" always goes to stderr.
func (s *Sandbox) execCurl(ctx context.Context, args []string) (*ExecResult, error) {
	parsed, err := parseCurlArgs(args)
	if err != nil {
		return nil, newErr(KindInvalidConfig, strings.Join(args, " "), err)
	}

	resp, err := s.Fetch(ctx, FetchRequest{
		URL:     parsed.url,
		Method:  parsed.method,
		Headers: parsed.headers,
		Body:    parsed.body,
	})
	if err != nil {
		return nil, err
	}

	stderr := []byte(fmt.Sprintf("HTTP %d\n", resp.Status))
	var stdout []byte
	if parsed.outFile != "" {
		if err := s.WriteFile(parsed.outFile, resp.Body); err != nil {
			return nil, err
		}
	} else {
		stdout = resp.Body
	}

	exitCode := int32(0)
	if !resp.OK {
		exitCode = 1
	}
	return &ExecResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}
