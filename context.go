// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/HFTrader/memglass/internal/allocator"
	"github.com/HFTrader/memglass/internal/helper"
	"github.com/HFTrader/memglass/mmf"
	"github.com/HFTrader/memglass/shm"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Context is the producer-side root of a session. It owns the header
// region and binds the managers together. One producer per session
// name: opening a name that is already bound fails with
// ErrSessionAlreadyOpen.
type Context struct {
	cfg          Config
	session      string
	headerRegion *mmf.MemoryRegion
	header       *telemetryHeader

	regions  *RegionManager
	metadata *MetadataManager
	objects  *ObjectManager
	types    *TypeRegistry

	closed bool
}

// OpenSession creates the session's header region and its first data
// region, making the session discoverable by observers.
func OpenSession(session string, cfg Config) (*Context, error) {
	if err := checkSessionName(session); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	headerSize := telemetryHeaderSize +
		cfg.ObjectDirCapacity*objectEntrySize +
		cfg.TypeRegistryCapacity*typeEntrySize +
		cfg.FieldEntriesCapacity*fieldEntrySize
	headerRegion, err := helper.CreateWritableRegion(headerName(session), 0o644, headerSize)
	if err != nil {
		return nil, osError(errors.Wrap(err, "failed to create session header"), ErrSessionAlreadyOpen, ErrOutOfSpace)
	}

	ctx := &Context{cfg: cfg, session: session, headerRegion: headerRegion}
	ctx.header = (*telemetryHeader)(allocator.ByteSliceData(headerRegion.Data()))
	ctx.initHeader()

	ctx.metadata = newMetadataManager(ctx, session)
	ctx.regions = newRegionManager(ctx)
	ctx.objects = newObjectManager(ctx)
	ctx.types = newTypeRegistry(ctx)

	if err = ctx.regions.init(session, cfg.InitialRegionSize); err != nil {
		ctx.teardown()
		return nil, err
	}
	return ctx, nil
}

func (ctx *Context) initHeader() {
	header := ctx.header
	header.Magic = headerMagic
	header.Version = layoutVersion
	header.PID = uint64(os.Getpid())
	atomic.StoreUint64(&header.Sequence, 0)
	atomic.StoreUint64(&header.FirstRegionID, 0)
	atomic.StoreUint64(&header.FirstOverflowRegionID, 0)

	offset := uint32(telemetryHeaderSize)
	header.ObjectDir = poolDescriptor{Offset: offset, Capacity: uint32(ctx.cfg.ObjectDirCapacity)}
	offset += uint32(ctx.cfg.ObjectDirCapacity) * objectEntrySize
	header.TypeRegistry = poolDescriptor{Offset: offset, Capacity: uint32(ctx.cfg.TypeRegistryCapacity)}
	offset += uint32(ctx.cfg.TypeRegistryCapacity) * typeEntrySize
	header.FieldEntries = poolDescriptor{Offset: offset, Capacity: uint32(ctx.cfg.FieldEntriesCapacity)}
}

func (ctx *Context) headerData() unsafe.Pointer {
	return allocator.ByteSliceData(ctx.headerRegion.Data())
}

// bumpSequence publishes a structural or visibility change.
func (ctx *Context) bumpSequence() {
	atomic.AddUint64(&ctx.header.Sequence, 1)
}

// SessionName returns the session's name.
func (ctx *Context) SessionName() string {
	return ctx.session
}

// Config returns the effective session configuration.
func (ctx *Context) Config() Config {
	return ctx.cfg
}

// Regions returns the session's region manager.
func (ctx *Context) Regions() *RegionManager {
	return ctx.regions
}

// Metadata returns the session's metadata manager.
func (ctx *Context) Metadata() *MetadataManager {
	return ctx.metadata
}

// Objects returns the session's object manager.
func (ctx *Context) Objects() *ObjectManager {
	return ctx.objects
}

// Types returns the session's type registry.
func (ctx *Context) Types() *TypeRegistry {
	return ctx.types
}

// Allocate reserves object storage inside the session.
func (ctx *Context) Allocate(size, alignment int) (unsafe.Pointer, error) {
	return ctx.regions.Allocate(size, alignment)
}

// RegisterType interns a composite type definition.
func (ctx *Context) RegisterType(name string, size uint32, fields []Field) (uint32, error) {
	return ctx.types.RegisterType(name, size, fields)
}

// RegisterObject publishes an allocated object to observers.
func (ctx *Context) RegisterObject(ptr unsafe.Pointer, typeID uint32, label string) (*ObjectEntry, error) {
	return ctx.objects.RegisterObject(ptr, typeID, label)
}

// DestroyObject marks a registered object as destroyed.
func (ctx *Context) DestroyObject(ptr unsafe.Pointer) error {
	return ctx.objects.DestroyObject(ptr)
}

// FindObject returns the first alive header entry with the label.
func (ctx *Context) FindObject(label string) *ObjectEntry {
	return ctx.objects.FindObject(label)
}

// Close tears the session down: every mapping is closed and every
// shared memory name is unlinked. The session does not survive the
// producer.
func (ctx *Context) Close() error {
	if ctx.closed {
		return nil
	}
	ctx.closed = true
	return ctx.teardown()
}

func (ctx *Context) teardown() error {
	var result error
	if ctx.regions != nil {
		result = multierr.Append(result, ctx.regions.close())
		result = multierr.Append(result, ctx.regions.unlinkAll())
	}
	if ctx.metadata != nil {
		result = multierr.Append(result, ctx.metadata.close())
		result = multierr.Append(result, ctx.metadata.unlinkAll())
	}
	if ctx.headerRegion != nil {
		result = multierr.Append(result, ctx.headerRegion.Close())
		result = multierr.Append(result, shm.Unlink(headerName(ctx.session)))
		ctx.headerRegion = nil
	}
	return result
}

func appendErr(result, err error) error {
	return multierr.Append(result, err)
}

func unlinkName(name string) error {
	return shm.Unlink(name)
}
