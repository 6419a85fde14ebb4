package normalizer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// indexMagic guards against loading unrelated files as index snapshots.
const indexMagic = uint32(0x4e4f5249) // "NORI"

// SaveBinary writes the index (entries, concept metadata, metric) to a
// little-endian snapshot that LoadIndexBinary restores bit-for-bit, skipping
// the encoding pass on subsequent starts.
func (ix *ConceptIndex) SaveBinary(path string) error {
	f, err := os.Create(path + ".tmp")
	if err != nil {
		return fmt.Errorf("create index snapshot: %w", err)
	}
	w := bufio.NewWriter(f)

	writeErr := func() error {
		if err := binary.Write(w, binary.LittleEndian, indexMagic); err != nil {
			return err
		}
		if err := writeString(w, string(ix.metric)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(ix.dim)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(ix.concepts))); err != nil {
			return err
		}
		for _, id := range sortedConceptIDs(ix.concepts) {
			c := ix.concepts[id]
			if err := writeString(w, c.ID); err != nil {
				return err
			}
			if err := writeString(w, c.Name); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(len(c.Synonyms))); err != nil {
				return err
			}
			for _, syn := range c.Synonyms {
				if err := writeString(w, syn); err != nil {
					return err
				}
			}
			if err := writeVector(w, c.Vector); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(ix.entries))); err != nil {
			return err
		}
		for i := range ix.entries {
			e := &ix.entries[i]
			if err := writeString(w, e.conceptID); err != nil {
				return err
			}
			if err := writeString(w, e.label); err != nil {
				return err
			}
			if err := writeVector(w, e.vector); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	if writeErr != nil {
		f.Close()
		os.Remove(path + ".tmp")
		return fmt.Errorf("write index snapshot: %w", writeErr)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index snapshot: %w", err)
	}
	return os.Rename(path+".tmp", path)
}

// LoadIndexBinary restores a snapshot written by SaveBinary.
func LoadIndexBinary(path string) (*ConceptIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ResourceError{Source: path, Reason: "open index snapshot", Err: err}
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, &ResourceError{Source: path, Reason: "read snapshot header", Err: err}
	}
	if magic != indexMagic {
		return nil, resourceErrorf(path, "not an index snapshot (bad magic %#x)", magic)
	}
	metric, err := readString(r)
	if err != nil {
		return nil, &ResourceError{Source: path, Reason: "read metric", Err: err}
	}
	switch Metric(metric) {
	case MetricCosine, MetricDot, MetricEuclidean:
	default:
		return nil, resourceErrorf(path, "snapshot has unknown metric %q", metric)
	}
	var dim, conceptCount uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, &ResourceError{Source: path, Reason: "read dimension", Err: err}
	}
	if err := binary.Read(r, binary.LittleEndian, &conceptCount); err != nil {
		return nil, &ResourceError{Source: path, Reason: "read concept count", Err: err}
	}
	if dim == 0 {
		return nil, resourceErrorf(path, "snapshot declares zero dimension")
	}

	ix := &ConceptIndex{
		metric:   Metric(metric),
		dim:      int(dim),
		concepts: make(map[string]*Concept, conceptCount),
	}
	for n := uint32(0); n < conceptCount; n++ {
		c := &Concept{}
		if c.ID, err = readString(r); err != nil {
			return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("read concept %d", n), Err: err}
		}
		if c.Name, err = readString(r); err != nil {
			return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("read concept %d name", n), Err: err}
		}
		var synCount uint32
		if err := binary.Read(r, binary.LittleEndian, &synCount); err != nil {
			return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("read concept %d synonyms", n), Err: err}
		}
		for i := uint32(0); i < synCount; i++ {
			syn, err := readString(r)
			if err != nil {
				return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("read concept %d synonym %d", n, i), Err: err}
			}
			c.Synonyms = append(c.Synonyms, syn)
		}
		if c.Vector, err = readVector(r, int(dim)); err != nil {
			return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("read concept %d vector", n), Err: err}
		}
		if _, dup := ix.concepts[c.ID]; dup {
			return nil, resourceErrorf(path, "duplicate concept identifier %q", c.ID)
		}
		ix.concepts[c.ID] = c
	}

	var entryCount uint32
	if err := binary.Read(r, binary.LittleEndian, &entryCount); err != nil {
		return nil, &ResourceError{Source: path, Reason: "read entry count", Err: err}
	}
	for n := uint32(0); n < entryCount; n++ {
		conceptID, err := readString(r)
		if err != nil {
			return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("read entry %d", n), Err: err}
		}
		label, err := readString(r)
		if err != nil {
			return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("read entry %d label", n), Err: err}
		}
		vec, err := readVector(r, int(dim))
		if err != nil {
			return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("read entry %d vector", n), Err: err}
		}
		if _, ok := ix.concepts[conceptID]; !ok {
			return nil, resourceErrorf(path, "entry %d references unknown concept %q", n, conceptID)
		}
		if err := ix.addEntry(conceptID, label, vec); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r *bufio.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeVector(w io.Writer, vec []float32) error {
	for _, v := range vec {
		if err := binary.Write(w, binary.LittleEndian, math.Float32bits(v)); err != nil {
			return err
		}
	}
	return nil
}

func readVector(r *bufio.Reader, dim int) ([]float32, error) {
	vec := make([]float32, dim)
	for i := range vec {
		var bits uint32
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return nil, err
		}
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

func sortedConceptIDs(m map[string]*Concept) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
