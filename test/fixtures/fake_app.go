package fixtures

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FakeApp is a copy of /bin/sleep under a unique name, so process queries
// by path or short name only ever match processes started by the test.
type FakeApp struct {
	Path string
	Name string
}

// NewFakeApp copies the sleep binary into dir.
func NewFakeApp(dir string) (*FakeApp, error) {
	src, err := findSleep()
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("sbfake%d", time.Now().UnixNano()%1_000_000_000)
	dst := filepath.Join(dir, name)
	if err := copyFile(src, dst); err != nil {
		return nil, err
	}
	return &FakeApp{Path: dst, Name: name}, nil
}

func findSleep() (string, error) {
	for _, p := range []string{"/bin/sleep", "/usr/bin/sleep"} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("sleep binary not found")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
