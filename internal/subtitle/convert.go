package subtitle

import (
	"fmt"
	"os"
)

// ConvertVTTToASS rewrites a WebVTT file as ASS at assPath. The source is left
// in place; callers remove it once the result is accepted.
func ConvertVTTToASS(vttPath, assPath string) (*File, error) {
	data, err := os.ReadFile(vttPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", vttPath, err)
	}
	sub, err := ReadVTTBytes(data, vttPath)
	if err != nil {
		return nil, err
	}
	if err := (&ASSWriter{}).Write(assPath, sub); err != nil {
		_ = os.Remove(assPath)
		return nil, err
	}
	sub.Path = assPath
	sub.Format = "ASS"
	return sub, nil
}
