package task

import (
	"fmt"

	"github.com/gookit/color"
)

// Directory names, relative to the project root unless noted.
const (
	appsDirName       = "apps"
	appsLibcDir       = "libc" // shared runtime, built implicitly by the other apps
	outputDirName     = "build"
	bootloaderDirName = "bootloader"
	kernelDirName     = "kernel"
	dumpDirName       = "dump"
	thirdPartyDirName = "third-party"
	qemuDirName       = "qemu"
	doomDirName       = "doom-for-myos"
	initramfsDirName  = "initramfs"
)

// Artifact file names.
const (
	bootloaderFile   = "bootx64.efi"
	kernelFile       = "kernel.elf"
	imgFile          = "myos.img"
	isoFile          = "myos.iso"
	fontFile         = "font.psf"
	cozetteBDF       = "cozette.bdf"
	ovmfCodeFile     = "OVMF_CODE.fd"
	doomWadFile      = "doom1.wad"
	initramfsImgFile = "initramfs.img"
	transcriptFile   = "transcript.log"
)

// Image geometry. Sizes are fixed by the boot contract, not tunable.
const (
	initramfsImgMiB   = 128
	systemImgMiB      = 200
	initramfsImgLabel = "INITRAMFS"
	systemImgLabel    = "MYOS"
)

// Network device names for the tap/bridge setup consumed by the guest NIC.
const (
	netdevTap = "tap0"
	netdevBr  = "br0"
	netdevIP  = "192.168.100.1/24"
)

// Resolved paths, set once by initConfig from the loaded Config.
var (
	rootDir       string
	outputDir     string
	dumpDir       string
	appsDir       string
	bootloaderDir string
	kernelDir     string
	thirdPartyDir string
	qemuSrcDir    string
	doomSrcDir    string
	initramfsDir  string
	mountPoint    string
	lockFilePath  string

	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time
)

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colCmd     = color.Green
)

// color-compatible printer interface (works with *color.Theme and *color.Style)
type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// cPrintf prints with a colored style or falls back to fmt.Printf when nil
func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

// cPrintln prints a line with the given style or falls back to fmt.Println when nil
func cPrintln(p colorPrinter, a ...any) {
	if p == nil {
		fmt.Println(a...)
		return
	}
	p.Println(a...)
}

// Debug gates debugf output; set from the config.
var Debug bool

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}
