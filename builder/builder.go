// Package builder assembles the DwarfIdea database file (spec §4.5,
// §5, §6): it owns the entry store, runs the partitioner and block
// encoder, drives the two-pass compression pipeline across blocks in
// parallel, and writes the header, sparse index, and block payloads
// to a seekable sink with offset backpatching.
//
// The file-writing idiom (reserve a placeholder, write the payload,
// seek back and patch, seek forward again) is grounded on
// sst/writer.go's appendDataBlock/writeIndexBlock/Flush dance; the
// two-pass scheduling and block encoding pipeline is grounded on
// dwarf_idea_builder.cpp's buildIndex/encodePass/build.
package builder

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ndl/dwarf-idea-tools/block"
	"github.com/ndl/dwarf-idea-tools/dwarferr"
	"github.com/ndl/dwarf-idea-tools/entrylist"
	"github.com/ndl/dwarf-idea-tools/fse"
	"github.com/ndl/dwarf-idea-tools/geo"
	"github.com/ndl/dwarf-idea-tools/keymap"
	"github.com/ndl/dwarf-idea-tools/partition"
	"github.com/ndl/dwarf-idea-tools/transform"
)

// Radio-identifier shapes from utils.h's kBssidKeySize/kCellKeySize/
// kCellExtraDataSize/kBssidExtraDataSize constants (§4.1/§9).
const (
	bssidKeySize   = 6
	bssidExtraSize = 0
	cellKeySize    = 10
	cellExtraSize  = 1
)

const (
	magic       = "DwarfIdea"
	fileVersion = uint16(1)
)

// Interface is the Go counterpart of IDwarfIdeaBuilder (§9): append
// locations, then build exactly once.
type Interface interface {
	AddLocation(key []byte, lat, lon float32, extra []byte) error
	Build(sink io.WriteSeeker) error
}

// Config holds the builder's required positional parameters (§6.1).
type Config struct {
	MaxDistError       float32
	MinEntriesPerBlock uint16
	MaxEntriesPerBlock uint16
	BoundingBoxBits    uint8
}

// Option configures optional builder behavior, following the
// functional-options pattern segmentmanager.DiskSegmentManagerOption
// uses throughout the teacher repo.
type Option func(*Builder)

// WithLogger installs a structured logger for the two documented
// codec-fallback diagnostics and the partition summary. Defaults to a
// no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// mapperFactory defers Strategy construction until every entry has
// been collected: cells need the full key walk first (§4.6), while
// BSSIDs need nothing from the entries at all.
type mapperFactory interface {
	build(entries []entrylist.Entry) (keymap.Strategy, error)
}

type identityMapperFactory struct{ keySize int }

func (f *identityMapperFactory) build(entries []entrylist.Entry) (keymap.Strategy, error) {
	return keymap.NewIdentity(f.keySize), nil
}

type cellMapperFactory struct{ keySize int }

func (f *cellMapperFactory) build(entries []entrylist.Entry) (keymap.Strategy, error) {
	keys := make([][]byte, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keymap.NewCellRemap(keys, f.keySize)
}

// Builder implements Interface; it is the Go counterpart of
// IDwarfIdeaBuilder / CellsDwarfIdeaBuilder.
type Builder struct {
	cfg    Config
	store  *entrylist.Store
	mapper mapperFactory
	logger *zap.Logger
	built  bool
}

func newBuilder(cfg Config, keySize, extraSize int, mapper mapperFactory, opts []Option) (*Builder, error) {
	if cfg.BoundingBoxBits == 0 || cfg.BoundingBoxBits >= 32 {
		return nil, dwarferr.Configf("builder: bounding_box_bits must be in [1, 31], got %d", cfg.BoundingBoxBits)
	}
	if cfg.MinEntriesPerBlock == 0 || cfg.MaxEntriesPerBlock == 0 {
		return nil, dwarferr.Configf("builder: min/max entries per block must be non-zero")
	}
	if cfg.MinEntriesPerBlock > cfg.MaxEntriesPerBlock {
		return nil, dwarferr.Configf("builder: min_entries_per_block (%d) exceeds max_entries_per_block (%d)", cfg.MinEntriesPerBlock, cfg.MaxEntriesPerBlock)
	}
	b := &Builder{
		cfg:    cfg,
		store:  entrylist.NewStore(keySize, extraSize),
		mapper: mapper,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NewBSSIDBuilder is the non-remapping instantiation for 6-byte BSSID
// keys, the counterpart of simple_dwarf_idea_builder.cpp.
func NewBSSIDBuilder(cfg Config, opts ...Option) (*Builder, error) {
	return newBuilder(cfg, bssidKeySize, bssidExtraSize, &identityMapperFactory{keySize: bssidKeySize}, opts)
}

// NewCellBuilder is the MCC/MNC-remapping instantiation for 10-byte
// cellular keys, the counterpart of cells_dwarf_idea_builder.cpp.
func NewCellBuilder(cfg Config, opts ...Option) (*Builder, error) {
	return newBuilder(cfg, cellKeySize, cellExtraSize, &cellMapperFactory{keySize: cellKeySize}, opts)
}

// AddLocation appends one location record (§4.2).
func (b *Builder) AddLocation(key []byte, lat, lon float32, extra []byte) error {
	if b.built {
		return dwarferr.Configf("builder: AddLocation called after Build")
	}
	if err := b.store.Add(key, lat, lon, extra); err != nil {
		return dwarferr.Configf("builder: %v", err)
	}
	return nil
}

// blockPrep is the per-block working state threaded between Pass 0
// and Pass 1: the computed BlockInfo, the block's first mapped key
// (the index entry), and the cached Stage-1 outputs for all three
// streams.
type blockPrep struct {
	start, end               int
	info                     block.Info
	mappedFirst              []byte
	keysStage1, coordsStage1 []byte
	extraStage1              []byte
}

type blockHistograms struct {
	keys, coords, extra fse.Histogram
}

// Build consumes the builder, running the full pipeline and writing
// the finished file to sink (§4.5/§5/§6). It may be called only once.
func (b *Builder) Build(sink io.WriteSeeker) error {
	if b.built {
		return dwarferr.Configf("builder: Build called more than once")
	}
	b.built = true

	entries := append([]entrylist.Entry(nil), b.store.Entries()...)
	if len(entries) == 0 {
		return dwarferr.Configf("builder: no entries added")
	}

	strategy, err := b.mapper.build(entries)
	if err != nil {
		return err
	}

	mappedKeys := make([][]byte, len(entries))
	for i, e := range entries {
		mk, err := strategy.MapKey(e.Key)
		if err != nil {
			return dwarferr.Configf("builder: mapping key for entry %d: %v", i, err)
		}
		mappedKeys[i] = mk
	}

	// The mapped-key ordering can differ from the raw-key ordering the
	// aggregator guarantees (cell remap assigns indices in discovery
	// order, not MCC/MNC numeric order); sort by mapped key before
	// partitioning, per §9's design note.
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return bytes.Compare(mappedKeys[order[i]], mappedKeys[order[j]]) < 0
	})
	sortedEntries := make([]entrylist.Entry, len(entries))
	sortedMappedKeys := make([][]byte, len(entries))
	for newIdx, oldIdx := range order {
		sortedEntries[newIdx] = entries[oldIdx]
		sortedMappedKeys[newIdx] = mappedKeys[oldIdx]
	}
	entries = sortedEntries
	mappedKeys = sortedMappedKeys

	gaps := partition.Gaps(entries)
	splitVec := partition.Split(gaps, len(entries), int(b.cfg.MinEntriesPerBlock), int(b.cfg.MaxEntriesPerBlock))
	numBlocks := len(splitVec)

	grid := block.NewGrid(b.cfg.BoundingBoxBits)
	budget := geo.NewErrorBudget(b.cfg.MaxDistError)
	hasExtra := b.store.ExtraSize > 0

	b.logger.Info("partition computed",
		zap.Int("num_entries", len(entries)),
		zap.Int("num_blocks", numBlocks),
	)

	blocks := make([]blockPrep, numBlocks)
	hists := make([]blockHistograms, numBlocks)

	var g errgroup.Group
	for i := 0; i < numBlocks; i++ {
		i := i
		g.Go(func() error {
			start, end := partition.BlockBounds(splitVec, i, len(entries))
			blockEntries := entries[start:end]
			points := make([]geo.Point, len(blockEntries))
			for j, e := range blockEntries {
				points[j] = e.Point
			}

			info, err := block.ComputeInfo(points, grid, budget)
			if err != nil {
				return dwarferr.Capacityf("builder: block %d: %v", i, err)
			}

			blockMappedKeys := mappedKeys[start:end]
			keysRaw := block.EncodeKeys(blockMappedKeys)
			coordsRaw := block.EncodeCoords(info, grid, points)

			keysS1, err := transform.CompressStream(keysRaw)
			if err != nil {
				return dwarferr.Codecf("builder: block %d keys stage 1: %v", i, err)
			}
			coordsS1, err := transform.CompressStream(coordsRaw)
			if err != nil {
				return dwarferr.Codecf("builder: block %d coords stage 1: %v", i, err)
			}

			var extraS1 []byte
			if hasExtra {
				extraRaw := block.EncodeExtra(blockEntries)
				extraS1, err = transform.CompressStream(extraRaw)
				if err != nil {
					return dwarferr.Codecf("builder: block %d extra stage 1: %v", i, err)
				}
			}

			blocks[i] = blockPrep{
				start:        start,
				end:          end,
				info:         info,
				mappedFirst:  blockMappedKeys[0],
				keysStage1:   keysS1,
				coordsStage1: coordsS1,
				extraStage1:  extraS1,
			}
			hists[i].keys.Add(keysS1)
			hists[i].coords.Add(coordsS1)
			if hasExtra {
				hists[i].extra.Add(extraS1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Reduce at the join barrier: per-block histograms are merged
	// sequentially here rather than updated via atomics during Pass 0,
	// since the merge is purely commutative addition (§9).
	var keysHist, coordsHist, extraHist fse.Histogram
	for i := 0; i < numBlocks; i++ {
		fse.Merge(&keysHist, &hists[i].keys)
		fse.Merge(&coordsHist, &hists[i].coords)
		if hasExtra {
			fse.Merge(&extraHist, &hists[i].extra)
		}
	}

	keysTable := trainTable(&keysHist)
	coordsTable := trainTable(&coordsHist)
	var extraTable *fse.Table
	if hasExtra {
		extraTable = trainTable(&extraHist)
	}

	payloads := make([][]byte, numBlocks)
	var g2 errgroup.Group
	for i := 0; i < numBlocks; i++ {
		i := i
		g2.Go(func() error {
			bp := blocks[i]
			keysOut, keysFlags := fse.Encode(bp.keysStage1, keysTable)
			coordsOut, coordsFlags := fse.Encode(bp.coordsStage1, coordsTable)
			b.logFallback(i, "keys", keysFlags)
			b.logFallback(i, "coords", coordsFlags)

			var extraOut []byte
			if hasExtra {
				var extraFlags byte
				extraOut, extraFlags = fse.Encode(bp.extraStage1, extraTable)
				b.logFallback(i, "extra", extraFlags)
			}

			payload := make([]byte, 0, len(keysOut)+len(coordsOut)+len(extraOut))
			payload = append(payload, keysOut...)
			payload = append(payload, coordsOut...)
			payload = append(payload, extraOut...)
			payloads[i] = payload
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return err
	}

	tables := []*fse.Table{keysTable, coordsTable}
	if hasExtra {
		tables = append(tables, extraTable)
	}

	sentinel := mappedKeys[len(mappedKeys)-1]
	if err := b.writeHeader(sink, strategy, len(entries), numBlocks, sentinel); err != nil {
		return err
	}
	if err := writeFSEHeaders(sink, tables); err != nil {
		return err
	}
	indexOffsets, err := writeIndexPlaceholders(sink, blocks)
	if err != nil {
		return err
	}
	return writeBlockPayloads(sink, payloads, indexOffsets)
}

func trainTable(h *fse.Histogram) *fse.Table {
	log := fse.OptimalTableLog(h.Total)
	norm := fse.NormalizeCount(h, log)
	return fse.BuildCTable(norm, log)
}

func (b *Builder) logFallback(blockIdx int, stream string, flags byte) {
	if flags&transform.FlagZRLTSkipped != 0 {
		b.logger.Warn("zrlt skipped, falling back to rank-coded stream",
			zap.Int("block", blockIdx), zap.String("stream", stream))
	}
	if flags&fse.FlagEntropySkipped != 0 {
		b.logger.Warn("entropy coding skipped, storing stage-1 payload raw",
			zap.Int("block", blockIdx), zap.String("stream", stream))
	}
}

func writeLE(w io.Writer, v any) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return dwarferr.WrapIO(err, "builder: writing header field")
	}
	return nil
}

func (b *Builder) writeHeader(sink io.Writer, strategy keymap.Strategy, numEntries, numBlocks int, sentinel []byte) error {
	if _, err := sink.Write([]byte(magic)); err != nil {
		return dwarferr.WrapIO(err, "builder: writing magic")
	}
	if err := writeLE(sink, fileVersion); err != nil {
		return err
	}
	if err := writeLE(sink, uint16(b.store.KeySize)); err != nil {
		return err
	}
	if err := writeLE(sink, uint16(b.store.ExtraSize)); err != nil {
		return err
	}
	if err := writeLE(sink, uint32(numEntries)); err != nil {
		return err
	}
	if err := writeLE(sink, uint32(numBlocks)); err != nil {
		return err
	}
	if err := writeLE(sink, b.cfg.MinEntriesPerBlock); err != nil {
		return err
	}
	if err := writeLE(sink, b.cfg.MaxEntriesPerBlock); err != nil {
		return err
	}
	if err := writeLE(sink, uint16(b.cfg.BoundingBoxBits)); err != nil {
		return err
	}
	if err := writeLE(sink, b.cfg.MaxDistError); err != nil {
		return err
	}
	if err := strategy.WriteHeaderExtra(sink); err != nil {
		return err
	}
	if _, err := sink.Write(sentinel); err != nil {
		return dwarferr.WrapIO(err, "builder: writing sentinel key")
	}
	return nil
}

func writeFSEHeaders(sink io.Writer, tables []*fse.Table) error {
	for _, t := range tables {
		blob := fse.WriteNCount(t)
		if err := writeLE(sink, uint32(len(blob))); err != nil {
			return err
		}
		if _, err := sink.Write(blob); err != nil {
			return dwarferr.WrapIO(err, "builder: writing FSE ncount blob")
		}
	}
	return nil
}

// writeIndexPlaceholders writes the sparse index's mapped_first_key
// fields alongside zeroed 4-byte offset placeholders, returning the
// file offset of each placeholder so Pass 1 can seek back and patch it.
func writeIndexPlaceholders(sink io.WriteSeeker, blocks []blockPrep) ([]int64, error) {
	offsets := make([]int64, len(blocks))
	for i, bp := range blocks {
		if _, err := sink.Write(bp.mappedFirst); err != nil {
			return nil, dwarferr.WrapIO(err, "builder: writing index mapped key")
		}
		pos, err := sink.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, dwarferr.WrapIO(err, "builder: seeking index table")
		}
		offsets[i] = pos
		if err := writeLE(sink, uint32(0)); err != nil {
			return nil, err
		}
	}
	return offsets, nil
}

// writeBlockPayloads appends every block's compressed payload in
// block order, backpatching each reserved index offset with the
// payload's actual starting position.
func writeBlockPayloads(sink io.WriteSeeker, payloads [][]byte, indexOffsets []int64) error {
	for i, payload := range payloads {
		start, err := sink.Seek(0, io.SeekCurrent)
		if err != nil {
			return dwarferr.WrapIO(err, "builder: seeking block payload start")
		}
		if _, err := sink.Write(payload); err != nil {
			return dwarferr.WrapIO(err, "builder: writing block payload")
		}
		end, err := sink.Seek(0, io.SeekCurrent)
		if err != nil {
			return dwarferr.WrapIO(err, "builder: seeking after block payload")
		}
		if _, err := sink.Seek(indexOffsets[i], io.SeekStart); err != nil {
			return dwarferr.WrapIO(err, "builder: seeking to backpatch index offset")
		}
		if err := writeLE(sink, uint32(start)); err != nil {
			return err
		}
		if _, err := sink.Seek(end, io.SeekStart); err != nil {
			return dwarferr.WrapIO(err, "builder: seeking past backpatched offset")
		}
	}
	return nil
}
