// Package log centralizes the btclog subsystem loggers used across the
// customer daemon, the merchant server, and the shared core packages. Each
// subsystem has its logger here; all of them write to stdout, and
// InitLogRotator adds a rotating log file once the configuration has been
// loaded.
package log

import (
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags, printed on each line of that subsystem's output. SetLevel
// applies one level to every subsystem.
const (
	SubsystemFSM       = "FSM "
	SubsystemStore     = "STOR"
	SubsystemContract  = "CNTR"
	SubsystemProtocol  = "PROT"
	SubsystemSession   = "SESS"
	SubsystemWatcher   = "WTCH"
	SubsystemZkAbacus  = "ZKAB"
	SubsystemCustomer  = "CUST"
	SubsystemMerchant  = "MRCH"
	SubsystemRPC       = "RPCS"
)

var backendLog = btclog.NewBackend(logWriter{})

// logWriter multiplexes log output to both stdout and the active rotator,
// the same split lnd's daemons use so operators see activity on the
// terminal in the foreground and still get a durable log file.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if rotatorInstance != nil {
		rotatorInstance.Write(p)
	}
	return len(p), nil
}

var rotatorInstance *rotator.Rotator

// InitLogRotator attaches a size-based rotating file as the
// secondary sink for all subsystem loggers.
func InitLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return err
	}
	rotatorInstance = r
	return nil
}

// Subsystem loggers. Other packages use these exported variables directly
// (for example log.WatcherLog or log.RPCLog).
var (
	FSMLog      = backendLog.Logger(SubsystemFSM)
	StoreLog    = backendLog.Logger(SubsystemStore)
	ContractLog = backendLog.Logger(SubsystemContract)
	ProtocolLog = backendLog.Logger(SubsystemProtocol)
	SessionLog  = backendLog.Logger(SubsystemSession)
	WatcherLog  = backendLog.Logger(SubsystemWatcher)
	ZkAbacusLog = backendLog.Logger(SubsystemZkAbacus)
	CustomerLog = backendLog.Logger(SubsystemCustomer)
	MerchantLog = backendLog.Logger(SubsystemMerchant)
	RPCLog      = backendLog.Logger(SubsystemRPC)
)

// SetLevel sets the logging level on all registered subsystems at once. It
// is called once at startup with the level parsed out of the config/CLI
// flags (e.g. "info", "debug", "trace").
func SetLevel(levelStr string) {
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		level = btclog.LevelInfo
	}
	for _, l := range []btclog.Logger{
		FSMLog, StoreLog, ContractLog, ProtocolLog, SessionLog,
		WatcherLog, ZkAbacusLog, CustomerLog, MerchantLog, RPCLog,
	} {
		l.SetLevel(level)
	}
}
