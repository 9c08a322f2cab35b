package delivery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	channelsFile   = "channels.json"
	deliveriesFile = "deliveries.json"
)

// snapshot reads and rewrites the two snapshot files. Writes go through
// a tmp file + rename so a crash mid-write never truncates the snapshot.
type snapshot struct {
	dir string
}

func newSnapshot(dir string) *snapshot {
	return &snapshot{dir: dir}
}

func (sn *snapshot) loadChannels() ([]Channel, error) {
	var out []Channel
	if err := sn.read(channelsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (sn *snapshot) loadDeliveries() ([]Delivery, error) {
	var out []Delivery
	if err := sn.read(deliveriesFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (sn *snapshot) saveChannels(chans []Channel) error {
	return sn.write(channelsFile, chans)
}

func (sn *snapshot) saveDeliveries(dels []Delivery) error {
	return sn.write(deliveriesFile, dels)
}

func (sn *snapshot) read(name string, v any) error {
	b, err := os.ReadFile(filepath.Join(sn.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // first run
		}
		return err
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (sn *snapshot) write(name string, v any) error {
	if err := os.MkdirAll(sn.dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(sn.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
