package validator

// DefaultDeniedPackages blocks process control, filesystem and network access,
// dynamic code loading, reflection, unsafe memory, cgo and object reconstruction.
// A denied path also denies every path beneath it.
var DefaultDeniedPackages = []string{
	"C",
	"debug",
	"encoding/gob",
	"github.com/traefik/yaegi",
	"go/build",
	"golang.org/x/sys",
	"io/fs",
	"io/ioutil",
	"net",
	"os",
	"path/filepath",
	"plugin",
	"reflect",
	"runtime",
	"syscall",
	"unsafe",
}

// DefaultDeniedCalls lists call targets by canonical import path.
var DefaultDeniedCalls = []string{
	"github.com/traefik/yaegi/interp.New",
	"io/ioutil.ReadFile",
	"io/ioutil.WriteFile",
	"os.Create",
	"os.Exit",
	"os.Open",
	"os.OpenFile",
	"os.ReadFile",
	"os.Remove",
	"os.RemoveAll",
	"os.WriteFile",
	"os/exec.Command",
	"os/exec.CommandContext",
	"plugin.Open",
	"reflect.NewAt",
	"syscall.Exec",
	"syscall.ForkExec",
	"unsafe.Pointer",
}
