package logsvc

import (
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/session"
)

// RollbarLogger reports to Rollbar and mirrors every entry to a std logger.
type RollbarLogger struct {
	std     *log.Logger
	minimum level
	report  func(lvl level, args ...interface{})
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
	levelCritical
)

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Console.Address)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "")

	minimum := levelInfo
	if conf.Debug {
		minimum = levelDebug
	}
	return &RollbarLogger{std: std, minimum: minimum, report: sendToRollbar}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, session.User
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		// set logged in User
		if usr, ok := arg.(session.User); ok {
			if !usrSet && usr.ID != "" { // only set one User
				rollbar.SetPerson(usr.ID, usr.Name, usr.Email)
				usrSet = true
			}
		} else {
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

func (l RollbarLogger) print(msg string, args []interface{}) {
	l.std.Println(msg)
	for _, arg := range args {
		if _, ok := arg.(session.User); ok {
			continue
		}
		l.std.Printf("%+v\n", arg)
	}
}

// log drops entries below the minimum level, for Rollbar and the mirror alike.
func (l RollbarLogger) log(lvl level, msg string, args []interface{}) {
	if lvl < l.minimum {
		return
	}
	l.report(lvl, l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	l.log(levelDebug, msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	l.log(levelInfo, msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	l.log(levelWarn, msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	l.log(levelError, msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(levelCritical, msg, args)
	l.std.Fatal(msg)
}

func sendToRollbar(lvl level, args ...interface{}) {
	switch lvl {
	case levelDebug:
		rollbar.Debug(args...)
	case levelInfo:
		rollbar.Info(args...)
	case levelWarn:
		rollbar.Warning(args...)
	case levelError:
		rollbar.Error(args...)
	default:
		rollbar.Critical(args...)
	}
}
