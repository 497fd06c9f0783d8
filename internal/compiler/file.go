package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// DecodeFile reads one rule file and decodes every rule it declares. The
// format comes from the extension. A CUE file is compiled on its own,
// without package or module resolution; directories of CUE packages are
// loaded by the CLI.
func DecodeFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}

	switch format := FormatFromPath(path); format {
	case FormatJSON, FormatYAML:
		return DecodeDocuments(data, format, path)
	case FormatCUE:
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, FormatCUEError(err)
		}
		docs, err := CompileRules(v)
		if err != nil {
			return nil, err
		}
		for i := range docs {
			docs[i].Source = path + ":" + docs[i].Source
		}
		return docs, nil
	default:
		return nil, fmt.Errorf("%s: unsupported rule file extension", path)
	}
}
