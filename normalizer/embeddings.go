package normalizer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// EmbeddingStore holds the dense vectors for all known tokens. It is built
// once during the load phase and is immutable afterwards, so concurrent
// lookups need no locking. Out-of-vocabulary tokens are resolved by subword
// composition when enabled; when nothing matches, the designated zero vector
// is returned together with an OOV flag for the caller to log.
type EmbeddingStore struct {
	dim             int
	vectors         map[string][]float32
	zero            []float32
	subwordFallback bool
}

// NewEmbeddingStore builds a store from an in-memory token table. Intended
// for tests and for callers that parse their own formats. The same
// consistency rules as LoadEmbeddings apply.
func NewEmbeddingStore(dim int, table map[string][]float32, subwordFallback bool) (*EmbeddingStore, error) {
	if dim <= 0 {
		return nil, resourceErrorf("embeddings", "embedding dimension must be positive, got %d", dim)
	}
	s := &EmbeddingStore{
		dim:             dim,
		vectors:         make(map[string][]float32, len(table)),
		zero:            make([]float32, dim),
		subwordFallback: subwordFallback,
	}
	for token, vec := range table {
		if err := s.add("embeddings", token, vec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadEmbeddings reads a word2vec-style text file: one "token v1 v2 ... vD"
// row per line, with an optional "count dim" header. Rows whose dimensionality
// disagrees with the first data row, or duplicate tokens with conflicting
// vectors, abort the load with a *ResourceError. Blank lines are skipped.
func LoadEmbeddings(path string, subwordFallback bool) (*EmbeddingStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ResourceError{Source: path, Reason: "open embedding table", Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var store *EmbeddingStore
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		// word2vec text files may start with a "count dim" header.
		if store == nil && lineNo == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				if _, err := strconv.Atoi(fields[1]); err == nil {
					continue
				}
			}
		}
		if len(fields) < 2 {
			return nil, resourceErrorf(path, "line %d: expected token and vector components", lineNo)
		}
		token := fields[0]
		vec := make([]float32, len(fields)-1)
		for i, raw := range fields[1:] {
			v, err := strconv.ParseFloat(raw, 32)
			if err != nil {
				return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("line %d: component %d", lineNo, i+1), Err: err}
			}
			vec[i] = float32(v)
		}
		if store == nil {
			store = &EmbeddingStore{
				dim:             len(vec),
				vectors:         make(map[string][]float32),
				zero:            make([]float32, len(vec)),
				subwordFallback: subwordFallback,
			}
		}
		if len(vec) != store.dim {
			return nil, resourceErrorf(path, "line %d: token %q has dimension %d, table has %d", lineNo, token, len(vec), store.dim)
		}
		if err := store.add(path, token, vec); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ResourceError{Source: path, Reason: "scan embedding table", Err: err}
	}
	if store == nil || len(store.vectors) == 0 {
		return nil, resourceErrorf(path, "embedding table is empty")
	}
	return store, nil
}

func (s *EmbeddingStore) add(source, token string, vec []float32) error {
	if len(vec) != s.dim {
		return resourceErrorf(source, "token %q has dimension %d, table has %d", token, len(vec), s.dim)
	}
	if existing, ok := s.vectors[token]; ok {
		if !equalVectors(existing, vec) {
			return resourceErrorf(source, "duplicate token %q with conflicting vectors", token)
		}
		return nil
	}
	s.vectors[token] = cloneVector(vec)
	return nil
}

// Dim returns the fixed dimensionality D shared by every vector in the store.
func (s *EmbeddingStore) Dim() int { return s.dim }

// Size returns the number of tokens in the table.
func (s *EmbeddingStore) Size() int { return len(s.vectors) }

// Contains reports whether the exact token is present in the table.
func (s *EmbeddingStore) Contains(token string) bool {
	_, ok := s.vectors[token]
	return ok
}

// Vector resolves a token to its embedding. Known tokens return their stored
// vector. Unknown tokens are decomposed into known subword fragments whose
// vectors are averaged elementwise; when no fragment matches (or the subword
// fallback is disabled) the zero vector is returned and oov is true. The
// returned slice is always a copy.
func (s *EmbeddingStore) Vector(token string) (vec []float32, oov bool) {
	if stored, ok := s.vectors[token]; ok {
		return cloneVector(stored), false
	}
	if s.subwordFallback {
		if composed := s.composeSubwords(token); composed != nil {
			return composed, false
		}
	}
	return cloneVector(s.zero), true
}

func (s *EmbeddingStore) composeSubwords(token string) []float32 {
	frags := segmentLongest(token, s.Contains)
	if len(frags) == 0 {
		return nil
	}
	sum := make([]float32, s.dim)
	for _, frag := range frags {
		fv := s.vectors[frag]
		for i, v := range fv {
			sum[i] += v
		}
	}
	inv := float32(1) / float32(len(frags))
	for i := range sum {
		sum[i] *= inv
	}
	return sum
}

// binaryMagic guards against loading unrelated files as embedding snapshots.
const binaryMagic = uint32(0x4e4f5245) // "NORE"

// SaveBinary writes the store to a compact little-endian snapshot that
// LoadEmbeddingsBinary restores bit-for-bit. The write goes through a
// temporary file and a rename so a crash never leaves a torn snapshot.
func (s *EmbeddingStore) SaveBinary(path string) error {
	f, err := os.Create(path + ".tmp")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	w := bufio.NewWriter(f)

	writeErr := func() error {
		if err := binary.Write(w, binary.LittleEndian, binaryMagic); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(s.dim)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s.vectors))); err != nil {
			return err
		}
		for _, token := range sortedTokens(s.vectors) {
			raw := []byte(token)
			if err := binary.Write(w, binary.LittleEndian, uint32(len(raw))); err != nil {
				return err
			}
			if _, err := w.Write(raw); err != nil {
				return err
			}
			for _, v := range s.vectors[token] {
				if err := binary.Write(w, binary.LittleEndian, math.Float32bits(v)); err != nil {
					return err
				}
			}
		}
		return w.Flush()
	}()
	if writeErr != nil {
		f.Close()
		os.Remove(path + ".tmp")
		return fmt.Errorf("write snapshot: %w", writeErr)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(path+".tmp", path)
}

// LoadEmbeddingsBinary restores a snapshot written by SaveBinary.
func LoadEmbeddingsBinary(path string, subwordFallback bool) (*EmbeddingStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ResourceError{Source: path, Reason: "open snapshot", Err: err}
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic, dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, &ResourceError{Source: path, Reason: "read snapshot header", Err: err}
	}
	if magic != binaryMagic {
		return nil, resourceErrorf(path, "not an embedding snapshot (bad magic %#x)", magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, &ResourceError{Source: path, Reason: "read snapshot header", Err: err}
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, &ResourceError{Source: path, Reason: "read snapshot header", Err: err}
	}
	if dim == 0 {
		return nil, resourceErrorf(path, "snapshot declares zero dimension")
	}
	store := &EmbeddingStore{
		dim:             int(dim),
		vectors:         make(map[string][]float32, count),
		zero:            make([]float32, dim),
		subwordFallback: subwordFallback,
	}
	for n := uint32(0); n < count; n++ {
		var tokenLen uint32
		if err := binary.Read(r, binary.LittleEndian, &tokenLen); err != nil {
			return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("read entry %d", n), Err: err}
		}
		raw := make([]byte, tokenLen)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("read entry %d token", n), Err: err}
		}
		vec := make([]float32, dim)
		for i := range vec {
			var bits uint32
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return nil, &ResourceError{Source: path, Reason: fmt.Sprintf("read entry %d vector", n), Err: err}
			}
			vec[i] = math.Float32frombits(bits)
		}
		if err := store.add(path, string(raw), vec); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func sortedTokens(m map[string][]float32) []string {
	out := make([]string, 0, len(m))
	for token := range m {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

func equalVectors(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
