// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Operation is a decoded command.
type Operation interface {
	// Type returns the type of the command the Operation was decoded from.
	Type() CommandType
}

// Timespec is a timestamp attribute value.
type Timespec struct {
	Sec  uint64
	Nsec uint32
}

func (ts Timespec) String() string { return fmt.Sprintf("%d.%09d", ts.Sec, ts.Nsec) }

// Subvol begins a stream that creates a new subvolume.
type Subvol struct {
	Path     string
	UUID     uuid.UUID
	Ctransid uint64
}

// Snapshot begins a stream that creates a snapshot of a parent subvolume.
type Snapshot struct {
	Path          string
	UUID          uuid.UUID
	Ctransid      uint64
	CloneUUID     uuid.UUID
	CloneCtransid uint64
}

// Mkfile creates a regular file.
type Mkfile struct {
	Path string
	Ino  uint64
}

// Mkdir creates a directory.
type Mkdir struct {
	Path string
	Ino  uint64
}

// Mknod creates a device node.
type Mknod struct {
	Path string
	Ino  uint64
	Mode uint64
	Rdev uint64
}

// Mkfifo creates a named pipe.
type Mkfifo struct {
	Path string
	Ino  uint64
}

// Mksock creates a unix socket.
type Mksock struct {
	Path string
	Ino  uint64
}

// Symlink creates a symbolic link at Path pointing to Link.
type Symlink struct {
	Path string
	Ino  uint64
	Link string
}

// Rename moves Path to To.
type Rename struct {
	Path string
	To   string
}

// Link creates a hard link at Path to Link.
type Link struct {
	Path string
	Link string
}

// Unlink removes a file.
type Unlink struct {
	Path string
}

// Rmdir removes a directory.
type Rmdir struct {
	Path string
}

// SetXattr sets an extended attribute.
type SetXattr struct {
	Path string
	Name string
	Data []byte
}

// RemoveXattr removes an extended attribute.
type RemoveXattr struct {
	Path string
	Name string
}

// Write writes Data at Offset.
type Write struct {
	Path   string
	Offset uint64
	Data   []byte
}

// Clone clones a range of another file into Path.
type Clone struct {
	Path          string
	Offset        uint64
	Len           uint64
	CloneUUID     uuid.UUID
	CloneCtransid uint64
	ClonePath     string
	CloneOffset   uint64
}

// Truncate sets a file's size.
type Truncate struct {
	Path string
	Size uint64
}

// Chmod sets a file's mode.
type Chmod struct {
	Path string
	Mode uint64
}

// Chown sets a file's owner.
type Chown struct {
	Path string
	UID  uint64
	GID  uint64
}

// Utimes sets a file's timestamps.
type Utimes struct {
	Path  string
	Atime Timespec
	Mtime Timespec
	Ctime Timespec
}

// UpdateExtent notes that a range of a file changed without sending data.
type UpdateExtent struct {
	Path   string
	Offset uint64
	Size   uint64
}

// End terminates a stream.
type End struct{}

// Fallocate preallocates or punches a range of a file.
type Fallocate struct {
	Path   string
	Mode   uint32
	Offset uint64
	Len    uint64
}

// Setflags sets inode flags.
type Setflags struct {
	Path  string
	Flags uint64
}

// EncodedWrite writes compressed data at Offset.
type EncodedWrite struct {
	Path             string
	Offset           uint64
	UnencodedFileLen uint64
	UnencodedLen     uint64
	UnencodedOffset  uint64
	Compression      uint32
	Encryption       uint32
	Data             []byte
}

func (*Subvol) Type() CommandType       { return CmdSubvol }
func (*Snapshot) Type() CommandType     { return CmdSnapshot }
func (*Mkfile) Type() CommandType       { return CmdMkfile }
func (*Mkdir) Type() CommandType        { return CmdMkdir }
func (*Mknod) Type() CommandType        { return CmdMknod }
func (*Mkfifo) Type() CommandType       { return CmdMkfifo }
func (*Mksock) Type() CommandType       { return CmdMksock }
func (*Symlink) Type() CommandType      { return CmdSymlink }
func (*Rename) Type() CommandType       { return CmdRename }
func (*Link) Type() CommandType         { return CmdLink }
func (*Unlink) Type() CommandType       { return CmdUnlink }
func (*Rmdir) Type() CommandType        { return CmdRmdir }
func (*SetXattr) Type() CommandType     { return CmdSetXattr }
func (*RemoveXattr) Type() CommandType  { return CmdRemoveXattr }
func (*Write) Type() CommandType        { return CmdWrite }
func (*Clone) Type() CommandType        { return CmdClone }
func (*Truncate) Type() CommandType     { return CmdTruncate }
func (*Chmod) Type() CommandType        { return CmdChmod }
func (*Chown) Type() CommandType        { return CmdChown }
func (*Utimes) Type() CommandType       { return CmdUtimes }
func (*UpdateExtent) Type() CommandType { return CmdUpdateExtent }
func (*End) Type() CommandType          { return CmdEnd }
func (*Fallocate) Type() CommandType    { return CmdFallocate }
func (*Setflags) Type() CommandType     { return CmdSetflags }
func (*EncodedWrite) Type() CommandType { return CmdEncodedWrite }

func (op *Write) String() string {
	return fmt.Sprintf("write %q offset=%d len=%d", op.Path, op.Offset, len(op.Data))
}

func (op *EncodedWrite) String() string {
	return fmt.Sprintf("encoded_write %q offset=%d len=%d unencoded_file_len=%d unencoded_len=%d "+
		"unencoded_offset=%d compression=%d encryption=%d",
		op.Path, op.Offset, len(op.Data), op.UnencodedFileLen, op.UnencodedLen,
		op.UnencodedOffset, op.Compression, op.Encryption)
}

func (op *SetXattr) String() string {
	return fmt.Sprintf("set_xattr %q name=%q len=%d", op.Path, op.Name, len(op.Data))
}

// Decompress returns the plain Write that op encodes.
func (op *EncodedWrite) Decompress() (*Write, error) {
	if op.Encryption != 0 {
		return nil, errors.Errorf("encoded write of %q uses unsupported encryption %d", op.Path, op.Encryption)
	}
	if op.Compression != EncodedIOCompressionZstd {
		return nil, errors.Errorf("encoded write of %q uses unsupported compression %d", op.Path, op.Compression)
	}
	raw, err := zstdDecoder().DecodeAll(op.Data, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "decompressing encoded write of %q", op.Path)
	}
	if op.UnencodedLen > math.MaxUint64-op.UnencodedOffset {
		return nil, errors.Errorf("encoded write of %q has overflowing range %d+%d",
			op.Path, op.UnencodedOffset, op.UnencodedLen)
	}
	if op.UnencodedOffset > uint64(len(raw)) {
		return nil, errors.Errorf("encoded write of %q decompressed to %dB, before its offset %d",
			op.Path, len(raw), op.UnencodedOffset)
	}
	end := op.UnencodedOffset + op.UnencodedLen
	if end > uint64(len(raw)) {
		return nil, errors.Errorf("encoded write of %q decompressed to %dB, need %dB", op.Path, len(raw), end)
	}
	return &Write{
		Path:   op.Path,
		Offset: op.Offset,
		Data:   raw[op.UnencodedOffset:end],
	}, nil
}

var zstdDecoderOnce struct {
	sync.Once
	dec *zstd.Decoder
}

func zstdDecoder() *zstd.Decoder {
	zstdDecoderOnce.Do(func() {
		// NewReader with a nil reader and no options cannot fail.
		zstdDecoderOnce.dec, _ = zstd.NewReader(nil)
	})
	return zstdDecoderOnce.dec
}

// attrSet indexes a command's attributes by type for decoding. The first
// failure is sticky; later lookups return zero values.
type attrSet struct {
	ct    CommandType
	attrs map[AttributeType]*Attribute
	err   error
}

func newAttrSet(ct CommandType, attrs []*Attribute) (*attrSet, error) {
	as := attrSet{ct: ct, attrs: make(map[AttributeType]*Attribute, len(attrs))}
	for _, a := range attrs {
		if _, ok := as.attrs[a.Type()]; ok {
			return nil, errors.Errorf("%s command has duplicate %s attribute", ct, a.Type())
		}
		as.attrs[a.Type()] = a
	}
	return &as, nil
}

func (as *attrSet) get(at AttributeType, required bool) *Attribute {
	if as.err != nil {
		return nil
	}
	a := as.attrs[at]
	if a == nil && required {
		as.err = errors.Errorf("%s command is missing required %s attribute", as.ct, at)
	}
	return a
}

func (as *attrSet) fail(err error) {
	if as.err == nil && err != nil {
		as.err = errors.Wrapf(err, "decoding %s command", as.ct)
	}
}

func (as *attrSet) str(at AttributeType) string {
	if a := as.get(at, true); a != nil {
		return a.PayloadString()
	}
	return ""
}

func (as *attrSet) data(at AttributeType) []byte {
	if a := as.get(at, true); a != nil {
		return append([]byte(nil), a.Payload()...)
	}
	return nil
}

func (as *attrSet) u64(at AttributeType) uint64 { return as.u64Opt(at, true) }

func (as *attrSet) u64Opt(at AttributeType, required bool) uint64 {
	if a := as.get(at, required); a != nil {
		v, err := a.PayloadU64()
		as.fail(err)
		return v
	}
	return 0
}

func (as *attrSet) u32(at AttributeType, required bool) uint32 {
	if a := as.get(at, required); a != nil {
		v, err := a.PayloadU32()
		as.fail(err)
		return v
	}
	return 0
}

func (as *attrSet) uuid(at AttributeType) uuid.UUID {
	if a := as.get(at, true); a != nil {
		v, err := uuid.FromBytes(a.Payload())
		as.fail(err)
		return v
	}
	return uuid.Nil
}

func (as *attrSet) timespec(at AttributeType) Timespec {
	a := as.get(at, true)
	if a == nil {
		return Timespec{}
	}
	p := a.Payload()
	if len(p) != 12 {
		as.fail(errors.Errorf("%s payload is %dB, not a timespec", at, len(p)))
		return Timespec{}
	}
	return Timespec{
		Sec:  binary.LittleEndian.Uint64(p[:8]),
		Nsec: binary.LittleEndian.Uint32(p[8:]),
	}
}

// DecodeCommand decodes cmd into its typed Operation.
func DecodeCommand(c *Context, cmd *Command) (Operation, error) {
	attrs, err := cmd.Attributes(c)
	if err != nil {
		return nil, err
	}
	as, err := newAttrSet(cmd.Type(), attrs)
	if err != nil {
		return nil, err
	}

	var op Operation
	switch cmd.Type() {
	case CmdSubvol:
		op = &Subvol{Path: as.str(AttrPath), UUID: as.uuid(AttrUUID), Ctransid: as.u64(AttrCtransid)}
	case CmdSnapshot:
		op = &Snapshot{
			Path:          as.str(AttrPath),
			UUID:          as.uuid(AttrUUID),
			Ctransid:      as.u64(AttrCtransid),
			CloneUUID:     as.uuid(AttrCloneUUID),
			CloneCtransid: as.u64(AttrCloneCtransid),
		}
	case CmdMkfile:
		op = &Mkfile{Path: as.str(AttrPath), Ino: as.u64Opt(AttrIno, false)}
	case CmdMkdir:
		op = &Mkdir{Path: as.str(AttrPath), Ino: as.u64Opt(AttrIno, false)}
	case CmdMknod:
		op = &Mknod{
			Path: as.str(AttrPath),
			Ino:  as.u64Opt(AttrIno, false),
			Mode: as.u64(AttrMode),
			Rdev: as.u64(AttrRdev),
		}
	case CmdMkfifo:
		op = &Mkfifo{Path: as.str(AttrPath), Ino: as.u64Opt(AttrIno, false)}
	case CmdMksock:
		op = &Mksock{Path: as.str(AttrPath), Ino: as.u64Opt(AttrIno, false)}
	case CmdSymlink:
		op = &Symlink{Path: as.str(AttrPath), Ino: as.u64Opt(AttrIno, false), Link: as.str(AttrPathLink)}
	case CmdRename:
		op = &Rename{Path: as.str(AttrPath), To: as.str(AttrPathTo)}
	case CmdLink:
		op = &Link{Path: as.str(AttrPath), Link: as.str(AttrPathLink)}
	case CmdUnlink:
		op = &Unlink{Path: as.str(AttrPath)}
	case CmdRmdir:
		op = &Rmdir{Path: as.str(AttrPath)}
	case CmdSetXattr:
		op = &SetXattr{Path: as.str(AttrPath), Name: as.str(AttrXattrName), Data: as.data(AttrXattrData)}
	case CmdRemoveXattr:
		op = &RemoveXattr{Path: as.str(AttrPath), Name: as.str(AttrXattrName)}
	case CmdWrite:
		op = &Write{Path: as.str(AttrPath), Offset: as.u64(AttrFileOffset), Data: as.data(AttrData)}
	case CmdClone:
		op = &Clone{
			Path:          as.str(AttrPath),
			Offset:        as.u64(AttrFileOffset),
			Len:           as.u64(AttrCloneLen),
			CloneUUID:     as.uuid(AttrCloneUUID),
			CloneCtransid: as.u64(AttrCloneCtransid),
			ClonePath:     as.str(AttrClonePath),
			CloneOffset:   as.u64(AttrCloneOffset),
		}
	case CmdTruncate:
		op = &Truncate{Path: as.str(AttrPath), Size: as.u64(AttrSize)}
	case CmdChmod:
		op = &Chmod{Path: as.str(AttrPath), Mode: as.u64(AttrMode)}
	case CmdChown:
		op = &Chown{Path: as.str(AttrPath), UID: as.u64(AttrUID), GID: as.u64(AttrGID)}
	case CmdUtimes:
		op = &Utimes{
			Path:  as.str(AttrPath),
			Atime: as.timespec(AttrAtime),
			Mtime: as.timespec(AttrMtime),
			Ctime: as.timespec(AttrCtime),
		}
	case CmdUpdateExtent:
		op = &UpdateExtent{Path: as.str(AttrPath), Offset: as.u64(AttrFileOffset), Size: as.u64(AttrSize)}
	case CmdEnd:
		op = &End{}
	case CmdFallocate:
		op = &Fallocate{
			Path:   as.str(AttrPath),
			Mode:   as.u32(AttrFallocateMode, true),
			Offset: as.u64(AttrFileOffset),
			Len:    as.u64(AttrSize),
		}
	case CmdSetflags:
		op = &Setflags{Path: as.str(AttrPath), Flags: as.u64(AttrSetflagsFlags)}
	case CmdEncodedWrite:
		op = &EncodedWrite{
			Path:             as.str(AttrPath),
			Offset:           as.u64(AttrFileOffset),
			UnencodedFileLen: as.u64(AttrUnencodedFileLen),
			UnencodedLen:     as.u64(AttrUnencodedLen),
			UnencodedOffset:  as.u64(AttrUnencodedOffset),
			Compression:      as.u32(AttrCompression, true),
			Encryption:       as.u32(AttrEncryption, false),
			Data:             as.data(AttrData),
		}
	default:
		return nil, errors.Errorf("no decoder for %s command", cmd.Type())
	}
	if as.err != nil {
		return nil, as.err
	}
	return op, nil
}
