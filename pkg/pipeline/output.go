package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/components"

	"github.com/yumyai/stat3deg/pkg/render"
)

// writeFile creates path and hands it to write.
func writeFile(path string, write func(w io.Writer) error) (retErr error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writePage(path string, charts ...components.Charter) error {
	return writeFile(path, func(w io.Writer) error { return render.WritePage(w, charts...) })
}
