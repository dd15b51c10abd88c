package testdata

import (
	"bytes"
	"embed"
	"log"
	"path"
	"runtime"
)

// dir of this go module, so tests can load files beneath it
var Dir string

// JSON lines inputs, each line names its expected outcome in "expect"
//
//go:embed lines
var Lines embed.FS

func GetLines(name string) []byte {
	ret, err := Lines.ReadFile(path.Join("lines", name))
	if err != nil {
		log.Fatalf("could not load test file %v: %v", name, err)
	}
	return ret
}

// GetLinesSplit returns the non empty lines of a fixture.
func GetLinesSplit(name string) [][]byte {
	ret := [][]byte{}
	for _, l := range bytes.Split(GetLines(name), []byte("\n")) {
		if len(bytes.TrimSpace(l)) > 0 {
			ret = append(ret, l)
		}
	}
	return ret
}

func init() {
	_, filename, _, _ := runtime.Caller(0)
	Dir = path.Dir(filename)
}
