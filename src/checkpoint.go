package pix2pix

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/x448/float16"
)

const (
	precisionF64 = "f64"
	precisionF16 = "f16"
)

// Checkpoint is the on-disk record written by SaveCheckpoint.
type Checkpoint struct {
	RunID         string       `json:"run_id"`
	Epoch         int          `json:"epoch"`
	Score         *float64     `json:"score,omitempty"`
	Direction     string       `json:"direction"`
	Precision     string       `json:"precision"`
	Arch          ArchInfo     `json:"arch"`
	SavedAt       time.Time    `json:"saved_at"`
	Generator     NetworkState `json:"G"`
	Discriminator NetworkState `json:"D"`
}

// ArchInfo records the topology a checkpoint was written from.
type ArchInfo struct {
	InputNC  int `json:"input_nc"`
	OutputNC int `json:"output_nc"`
	NGF      int `json:"ngf"`
	NDF      int `json:"ndf"`
	NumDowns int `json:"num_downs"`
	NLayersD int `json:"n_layers_d"`
}

// NetworkState holds parameters and buffers in network order.
type NetworkState struct {
	Params  []TensorRecord `json:"params"`
	Buffers []TensorRecord `json:"buffers"`
}

// TensorRecord is a tensor with little-endian base64 data.
type TensorRecord struct {
	Shape []int  `json:"shape"`
	Data  string `json:"data"`
}

func encodeTensor(t *Tensor, precision string) TensorRecord {
	var buf []byte
	if precision == precisionF16 {
		buf = make([]byte, 2*len(t.data))
		for i, v := range t.data {
			binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(float32(v)).Bits())
		}
	} else {
		buf = make([]byte, 8*len(t.data))
		for i, v := range t.data {
			binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
		}
	}
	return TensorRecord{Shape: t.Shape(), Data: base64.StdEncoding.EncodeToString(buf)}
}

func decodeTensor(r TensorRecord, precision string) (*Tensor, error) {
	buf, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, err
	}
	width := 8
	if precision == precisionF16 {
		width = 2
	}
	if len(buf)%width != 0 {
		return nil, errorf("tensor data is %d bytes, not a multiple of %d", len(buf), width)
	}
	data := make([]float64, len(buf)/width)
	for i := range data {
		if width == 2 {
			data[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32())
		} else {
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
		}
	}
	return FromData(data, r.Shape...)
}

func encodeState(params, buffers []*Tensor, precision string) NetworkState {
	s := NetworkState{
		Params:  make([]TensorRecord, len(params)),
		Buffers: make([]TensorRecord, len(buffers)),
	}
	for i, p := range params {
		s.Params[i] = encodeTensor(p, precision)
	}
	for i, b := range buffers {
		s.Buffers[i] = encodeTensor(b, precision)
	}
	return s
}

// decodeState checks every record against the destination tensors and only
// returns decoded values when all of them match.
func decodeState(net string, s NetworkState, params, buffers []*Tensor, precision string) ([]*Tensor, error) {
	if len(s.Params) != len(params) || len(s.Buffers) != len(buffers) {
		return nil, errorf("%w: %s has %d params and %d buffers, checkpoint has %d and %d",
			ErrShapeMismatch, net, len(params), len(buffers), len(s.Params), len(s.Buffers))
	}
	records := append(append([]TensorRecord{}, s.Params...), s.Buffers...)
	targets := append(append([]*Tensor{}, params...), buffers...)
	out := make([]*Tensor, len(records))
	for i, r := range records {
		t, err := decodeTensor(r, precision)
		if err != nil {
			return nil, errorf("%s tensor %d: %w", net, i, err)
		}
		if !sameShape(t.shape, targets[i].shape) {
			return nil, errorf("%w: %s tensor %d is %v, checkpoint has %v",
				ErrShapeMismatch, net, i, targets[i].shape, t.shape)
		}
		out[i] = t
	}
	return out, nil
}

// CheckpointPath returns where SaveCheckpoint writes.
func CheckpointPath(dir string, epoch int, isBest bool, direction string) string {
	if isBest {
		return filepath.Join(dir, fmt.Sprintf("model_best_%s.pth", direction))
	}
	return filepath.Join(dir, fmt.Sprintf("model_%d.pth", epoch))
}

// SaveCheckpoint writes both networks to dir and returns the file path.
func (m *Model) SaveCheckpoint(epoch int, dir string, score float64, isBest bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	precision := precisionF64
	if m.opts.HalfPrecision {
		precision = precisionF16
	}
	ckpt := Checkpoint{
		RunID:     m.runID.String(),
		Epoch:     epoch,
		Direction: m.opts.Direction,
		Precision: precision,
		Arch: ArchInfo{
			InputNC:  m.opts.InputNC,
			OutputNC: m.opts.OutputNC,
			NGF:      m.opts.NGF,
			NDF:      m.opts.NDF,
			NumDowns: m.opts.NumDowns,
			NLayersD: m.opts.NLayersD,
		},
		SavedAt:       time.Now().UTC(),
		Generator:     encodeState(m.netG.parameters(), m.netG.buffers(), precision),
		Discriminator: encodeState(m.netD.parameters(), m.netD.buffers(), precision),
	}
	if !math.IsNaN(score) && !math.IsInf(score, 0) {
		ckpt.Score = &score
	}

	path := CheckpointPath(dir, epoch, isBest, m.opts.Direction)
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if err := json.NewEncoder(file).Encode(ckpt); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}

	slog.Info("saved checkpoint", "path", path, "epoch", epoch, "best", isBest, "precision", precision)
	return path, nil
}

// LoadCheckpoint restores both networks from path and returns the stored
// score, +Inf when none was recorded. Nothing is modified unless every
// tensor matches the network.
func (m *Model) LoadCheckpoint(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var ckpt Checkpoint
	if err := json.NewDecoder(file).Decode(&ckpt); err != nil {
		return 0, errorf("decode checkpoint %s: %w", path, err)
	}
	switch ckpt.Precision {
	case precisionF64, precisionF16:
	case "":
		ckpt.Precision = precisionF64
	default:
		return 0, errorf("unknown checkpoint precision %q", ckpt.Precision)
	}

	gVals, err := decodeState("generator", ckpt.Generator, m.netG.parameters(), m.netG.buffers(), ckpt.Precision)
	if err != nil {
		return 0, err
	}
	dVals, err := decodeState("discriminator", ckpt.Discriminator, m.netD.parameters(), m.netD.buffers(), ckpt.Precision)
	if err != nil {
		return 0, err
	}

	gDst := append(m.netG.parameters(), m.netG.buffers()...)
	for i, t := range gDst {
		copy(t.data, gVals[i].data)
	}
	dDst := append(m.netD.parameters(), m.netD.buffers()...)
	for i, t := range dDst {
		copy(t.data, dVals[i].data)
	}

	slog.Info("loaded checkpoint", "path", path, "epoch", ckpt.Epoch, "run", ckpt.RunID)
	if ckpt.Score == nil {
		return math.Inf(1), nil
	}
	return *ckpt.Score, nil
}

// ReadCheckpointInfo decodes a checkpoint header without touching a model.
func ReadCheckpointInfo(path string) (Checkpoint, error) {
	var ckpt Checkpoint
	data, err := os.ReadFile(path)
	if err != nil {
		return ckpt, err
	}
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return ckpt, errorf("decode checkpoint %s: %w", path, err)
	}
	return ckpt, nil
}
