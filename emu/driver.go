package emu

import (
	"strings"

	"github.com/INLOpen/emu/core"
)

// Driver metadata for a host raster library's format registry.
const (
	DriverName      = "EMU"
	DriverLongName  = "UBARSC Streaming Format (.emu)"
	DriverExtension = "emu"
)

// Driver is the registration surface a host raster library dispatches
// through: identification by filename and leading bytes, plus the four
// dataset entry points.
type Driver struct {
	Name      string
	LongName  string
	Extension string

	Identify   func(filename string, header []byte) bool
	Open       func(filename string, opts *OpenOptions) (*Dataset, error)
	Create     func(filename string, xSize, ySize, bandCount int, pixelType core.PixelType, opts *CreateOptions) (*Dataset, error)
	CreateCopy func(filename string, src CopySource, strict bool, opts *CopyOptions) (*Dataset, error)
}

// GetDriver returns the format descriptor with its entry points bound.
func GetDriver() Driver {
	return Driver{
		Name:       DriverName,
		LongName:   DriverLongName,
		Extension:  DriverExtension,
		Identify:   Identify,
		Open:       Open,
		Create:     Create,
		CreateCopy: CreateCopy,
	}
}

// Identify reports whether the named file is an EMU container: the
// extension must be emu and the leading bytes must carry the magic.
func Identify(filename string, header []byte) bool {
	if !strings.EqualFold(extension(filename), DriverExtension) {
		return false
	}
	return len(header) >= core.MagicLen && string(header[:core.MagicLen]) == core.Magic
}
