// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

import (
	"fmt"
)

// CommandType is the numeric type of a send stream command.
type CommandType uint16

// Command types, in wire order.
const (
	CmdUnspec CommandType = iota
	CmdSubvol
	CmdSnapshot
	CmdMkfile
	CmdMkdir
	CmdMknod
	CmdMkfifo
	CmdMksock
	CmdSymlink
	CmdRename
	CmdLink
	CmdUnlink
	CmdRmdir
	CmdSetXattr
	CmdRemoveXattr
	CmdWrite
	CmdClone
	CmdTruncate
	CmdChmod
	CmdChown
	CmdUtimes
	CmdEnd
	CmdUpdateExtent
	CmdFallocate
	CmdSetflags
	CmdEncodedWrite

	cmdCount
)

var commandTypeNames = [...]string{
	CmdUnspec:       "UNSPEC",
	CmdSubvol:       "SUBVOL",
	CmdSnapshot:     "SNAPSHOT",
	CmdMkfile:       "MKFILE",
	CmdMkdir:        "MKDIR",
	CmdMknod:        "MKNOD",
	CmdMkfifo:       "MKFIFO",
	CmdMksock:       "MKSOCK",
	CmdSymlink:      "SYMLINK",
	CmdRename:       "RENAME",
	CmdLink:         "LINK",
	CmdUnlink:       "UNLINK",
	CmdRmdir:        "RMDIR",
	CmdSetXattr:     "SET_XATTR",
	CmdRemoveXattr:  "REMOVE_XATTR",
	CmdWrite:        "WRITE",
	CmdClone:        "CLONE",
	CmdTruncate:     "TRUNCATE",
	CmdChmod:        "CHMOD",
	CmdChown:        "CHOWN",
	CmdUtimes:       "UTIMES",
	CmdEnd:          "END",
	CmdUpdateExtent: "UPDATE_EXTENT",
	CmdFallocate:    "FALLOCATE",
	CmdSetflags:     "SETFLAGS",
	CmdEncodedWrite: "ENCODED_WRITE",
}

// Known returns true if ct is a command type this package can decode.
func (ct CommandType) Known() bool { return ct > CmdUnspec && ct < cmdCount }

func (ct CommandType) String() string {
	if int(ct) < len(commandTypeNames) {
		return commandTypeNames[ct]
	}
	return fmt.Sprintf("CommandType(%d)", uint16(ct))
}

// AttributeType is the numeric type of a command attribute.
type AttributeType uint16

// Attribute types, in wire order.
const (
	AttrUnspec AttributeType = iota
	AttrUUID
	AttrCtransid
	AttrIno
	AttrSize
	AttrMode
	AttrUID
	AttrGID
	AttrRdev
	AttrCtime
	AttrMtime
	AttrAtime
	AttrOtime
	AttrXattrName
	AttrXattrData
	AttrPath
	AttrPathTo
	AttrPathLink
	AttrFileOffset
	AttrData
	AttrCloneUUID
	AttrCloneCtransid
	AttrClonePath
	AttrCloneOffset
	AttrCloneLen
	AttrFallocateMode
	AttrSetflagsFlags
	AttrUnencodedFileLen
	AttrUnencodedLen
	AttrUnencodedOffset
	AttrCompression
	AttrEncryption

	attrCount
)

var attributeTypeNames = [...]string{
	AttrUnspec:           "UNSPEC",
	AttrUUID:             "UUID",
	AttrCtransid:         "CTRANSID",
	AttrIno:              "INO",
	AttrSize:             "SIZE",
	AttrMode:             "MODE",
	AttrUID:              "UID",
	AttrGID:              "GID",
	AttrRdev:             "RDEV",
	AttrCtime:            "CTIME",
	AttrMtime:            "MTIME",
	AttrAtime:            "ATIME",
	AttrOtime:            "OTIME",
	AttrXattrName:        "XATTR_NAME",
	AttrXattrData:        "XATTR_DATA",
	AttrPath:             "PATH",
	AttrPathTo:           "PATH_TO",
	AttrPathLink:         "PATH_LINK",
	AttrFileOffset:       "FILE_OFFSET",
	AttrData:             "DATA",
	AttrCloneUUID:        "CLONE_UUID",
	AttrCloneCtransid:    "CLONE_CTRANSID",
	AttrClonePath:        "CLONE_PATH",
	AttrCloneOffset:      "CLONE_OFFSET",
	AttrCloneLen:         "CLONE_LEN",
	AttrFallocateMode:    "FALLOCATE_MODE",
	AttrSetflagsFlags:    "SETFLAGS_FLAGS",
	AttrUnencodedFileLen: "UNENCODED_FILE_LEN",
	AttrUnencodedLen:     "UNENCODED_LEN",
	AttrUnencodedOffset:  "UNENCODED_OFFSET",
	AttrCompression:      "COMPRESSION",
	AttrEncryption:       "ENCRYPTION",
}

// Known returns true if at is an attribute type this package can decode.
func (at AttributeType) Known() bool { return at > AttrUnspec && at < attrCount }

func (at AttributeType) String() string {
	if int(at) < len(attributeTypeNames) {
		return attributeTypeNames[at]
	}
	return fmt.Sprintf("AttributeType(%d)", uint16(at))
}

// EncodedIOCompressionZstd is the COMPRESSION attribute value for zstd.
const EncodedIOCompressionZstd uint32 = 2
