package vector

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
)

// FormatVersion is written into every encoded vector. Files with any other
// version are rejected.
const FormatVersion = 1

// Ext is the file extension used for vector files.
const Ext = ".vec.json"

type fileFormat struct {
	FormatVersion int `json:"format_version"`
	Metadata
	HiddenDim  int             `json:"hidden_dim"`
	LayerIDs   []model.LayerID `json:"layer_ids"`
	Directions [][]float32     `json:"directions"`
	Checksum   string          `json:"checksum"`
}

// Encode writes v as indented JSON. Directions are listed in LayerIDs order and
// float32 values survive a round trip bit for bit.
func (v *ControlVector) Encode(w io.Writer) error {
	if err := v.requireTrained(); err != nil {
		return err
	}

	ff := fileFormat{
		FormatVersion: FormatVersion,
		Metadata:      v.meta,
		HiddenDim:     v.hiddenDim,
		LayerIDs:      v.layerIDs,
		Directions:    make([][]float32, len(v.layerIDs)),
		Checksum:      v.Fingerprint(),
	}
	for i, id := range v.layerIDs {
		ff.Directions[i] = v.directions[id]
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ff); err != nil {
		return perrors.SerializationWrap(err, perrors.ErrVectorCorrupt, "failed to encode control vector")
	}
	return nil
}

// Decode reads a vector written by Encode.
func Decode(r io.Reader) (*ControlVector, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, perrors.IOWrap(err, perrors.ErrIOReadFailed, "failed to read control vector")
	}

	var probe struct {
		FormatVersion *int `json:"format_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, perrors.SerializationWrap(err, perrors.ErrVectorCorrupt, "control vector is not valid JSON")
	}
	if probe.FormatVersion == nil {
		return nil, perrors.Serialization(perrors.ErrVectorCorrupt, "control vector has no format_version")
	}
	if *probe.FormatVersion != FormatVersion {
		return nil, perrors.Serializationf(perrors.ErrVectorVersionUnsupported,
			"control vector format_version %d is not supported (want %d)", *probe.FormatVersion, FormatVersion)
	}

	var ff fileFormat
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ff); err != nil {
		return nil, perrors.SerializationWrap(err, perrors.ErrVectorCorrupt, "malformed control vector")
	}

	if len(ff.LayerIDs) == 0 || len(ff.LayerIDs) != len(ff.Directions) {
		return nil, perrors.Serializationf(perrors.ErrVectorCorrupt,
			"control vector has %d layer ids and %d directions", len(ff.LayerIDs), len(ff.Directions))
	}
	dirs := make(map[model.LayerID][]float32, len(ff.LayerIDs))
	for i, id := range ff.LayerIDs {
		if _, dup := dirs[id]; dup {
			return nil, perrors.Serializationf(perrors.ErrVectorCorrupt, "control vector repeats layer id %d", id)
		}
		if len(ff.Directions[i]) != ff.HiddenDim {
			return nil, perrors.Serializationf(perrors.ErrVectorCorrupt,
				"layer %d direction has %d values, hidden_dim is %d", id, len(ff.Directions[i]), ff.HiddenDim)
		}
		dirs[id] = ff.Directions[i]
	}

	v, err := FromDirections(dirs, ff.Metadata)
	if err != nil {
		return nil, perrors.SerializationWrap(err, perrors.ErrVectorCorrupt, "control vector failed validation")
	}
	if got := v.Fingerprint(); got != ff.Checksum {
		return nil, perrors.Serialization(perrors.ErrVectorCorrupt, "control vector checksum mismatch").
			WithContext("want", ff.Checksum).
			WithContext("got", got)
	}
	return v, nil
}

// ToFile writes v to path atomically: the data goes to a temporary file in the
// same directory which is then renamed over path.
func (v *ControlVector) ToFile(path string) error {
	var buf bytes.Buffer
	if err := v.Encode(&buf); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return perrors.IOWrap(err, perrors.ErrIOWriteFailed, "failed to create vector directory").
			WithContext("path", path)
	}
	if err := writeAtomic(dir, path, buf.Bytes()); err != nil {
		return perrors.IOWrap(err, perrors.ErrIOWriteFailed, "failed to write control vector").
			WithContext("path", path)
	}
	return nil
}

func writeAtomic(dir, dest string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".vec-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if _, err := bw.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// FromFile reads a vector written by ToFile.
func FromFile(path string) (*ControlVector, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, perrors.IOWrap(err, perrors.ErrVectorNotFound, "control vector file not found").
				WithContext("path", path)
		}
		return nil, perrors.IOWrap(err, perrors.ErrIOReadFailed, "failed to open control vector").
			WithContext("path", path)
	}
	defer f.Close()

	v, err := Decode(f)
	if err != nil {
		if perr, ok := perrors.AsPalinorError(err); ok {
			perr.WithContext("path", path)
		}
		return nil, err
	}
	return v, nil
}
