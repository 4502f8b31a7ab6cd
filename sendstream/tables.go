// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sendstream

// The functions in this file describe how each command and attribute type
// behaves across versions. They are fixed at build time.

// attributeSizeLessSince returns the first version in which attributes of
// type at are written without a length field.
func attributeSizeLessSince(at AttributeType) (Version, bool) {
	switch at {
	case AttrData:
		return V2, true
	default:
		return VersionUnset, false
	}
}

// attributeCompressesTo returns the minimum version at which at may be
// compressed, along with the attribute type that holds its compressed form.
func attributeCompressesTo(at AttributeType) (Version, AttributeType, bool) {
	switch at {
	case AttrData:
		return V2, AttrData, true
	default:
		return VersionUnset, AttrUnspec, false
	}
}

func isAttributeAppendable(at AttributeType) bool  { return at == AttrData }
func isAttributeTruncatable(at AttributeType) bool { return at == AttrData }

// commandUpgradesTo returns the set of destination versions for which an
// upgrade transform exists for ct.
func commandUpgradesTo(ct CommandType) []Version {
	switch ct {
	case CmdWrite:
		return []Version{V2}
	default:
		return nil
	}
}

// commandCompressesTo returns the minimum version at which ct may be
// compressed, along with the command type of its compressed form.
func commandCompressesTo(ct CommandType) (Version, CommandType, bool) {
	switch ct {
	case CmdWrite:
		return V2, CmdEncodedWrite, true
	default:
		return VersionUnset, CmdUnspec, false
	}
}

func isCommandAppendable(ct CommandType) bool { return ct == CmdWrite }
func isCommandPaddable(ct CommandType) bool   { return ct == CmdWrite }
