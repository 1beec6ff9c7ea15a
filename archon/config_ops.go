package archon

import (
	"fmt"
	"strings"
	"time"
)

// MaxConfigLines bounds the RCONFIG enumeration in ReadConfig: the
// controller's reply stream terminates early (an empty line) well before
// this is reached, but the cap keeps a misbehaving controller from hanging
// the caller forever.
const MaxConfigLines = 4096

// WriteConfig sequences POLLOFF, CLEARCONFIG, a WCONFIGnnnn line per CONFIG
// entry (plus any overrides merged in first), the requested APPLY*/
// LOADTIMING subsystem commands, and POLLON. It fails atomically: on the
// first NAK the whole operation is abandoned, the caller is told which
// line failed, and the controller is left in ERROR.
//
// apply may contain any of "APPLYALL", "APPLYCDS", "APPLYSYSTEM",
// "LOADTIMING"; they are issued in the order given.
func (e *Engine) WriteConfig(acf *ACF, overrides map[string]string, apply []string, lineDelay time.Duration) error {
	e.Controller.OpLock.Lock()
	defer e.Controller.OpLock.Unlock()

	for k, v := range overrides {
		acf.Set("CONFIG", k, v)
	}

	if err := e.mustSucceed("POLLOFF", e.Controller.DefaultTimeout); err != nil {
		return &ConfigError{Controller: e.Controller.Desc.Name, Reason: "POLLOFF: " + err.Error()}
	}
	if err := e.mustSucceed("CLEARCONFIG", e.Controller.DefaultTimeout); err != nil {
		e.markErrored()
		return &ConfigError{Controller: e.Controller.Desc.Name, Reason: "CLEARCONFIG: " + err.Error()}
	}

	for i, line := range acf.WconfigLines() {
		if err := e.mustSucceed(line, e.Controller.DefaultTimeout); err != nil {
			e.markErrored()
			e.mustSucceed("POLLON", e.Controller.DefaultTimeout)
			return &ConfigError{
				Controller: e.Controller.Desc.Name,
				Reason:     fmt.Sprintf("line %d (%s) failed: %v", i, line, err),
			}
		}
		if lineDelay > 0 {
			time.Sleep(lineDelay)
		}
	}

	for _, a := range apply {
		if err := e.mustSucceed(a, e.Controller.DefaultTimeout); err != nil {
			e.markErrored()
			e.mustSucceed("POLLON", e.Controller.DefaultTimeout)
			return &ConfigError{Controller: e.Controller.Desc.Name, Reason: a + ": " + err.Error()}
		}
	}

	if err := e.mustSucceed("POLLON", e.Controller.DefaultTimeout); err != nil {
		return &ConfigError{Controller: e.Controller.Desc.Name, Reason: "POLLON: " + err.Error()}
	}

	// A full reload succeeded: this is the "successful reload" that lifts
	// the refuse-further-exposures gate a prior WriteConfig/readout
	// failure set, per spec.md §8 scenario 5.
	e.clearErrored()
	e.ACF = acf
	return nil
}

// WriteLine locates name's parameter slot in the engine's current ACF and
// issues the single WCONFIGnnnn line, followed by FASTLOADPARAM/LOADPARAM
// to activate the change without a full config reload.
func (e *Engine) WriteLine(name, value string) error {
	e.Controller.OpLock.Lock()
	defer e.Controller.OpLock.Unlock()

	slot, err := e.ACF.ParamSlot(name)
	if err != nil {
		return err
	}
	if err := e.ACF.SetParamValue(name, value); err != nil {
		return err
	}
	line, err := e.wconfigLine(slot, name)
	if err != nil {
		return err
	}
	if err := e.mustSucceed(line, e.Controller.DefaultTimeout); err != nil {
		return &ConfigError{Controller: e.Controller.Desc.Name, Reason: err.Error()}
	}
	if err := e.mustSucceed(fmt.Sprintf("LOADPARAM %s", name), e.Controller.DefaultTimeout); err != nil {
		return &ConfigError{Controller: e.Controller.Desc.Name, Reason: err.Error()}
	}
	return nil
}

// ReadConfig enumerates RCONFIGnnnn slots until an empty reply terminates
// the stream, and reassembles the CONFIG section text.
func (e *Engine) ReadConfig() (string, error) {
	e.Controller.OpLock.Lock()
	defer e.Controller.OpLock.Unlock()

	if err := e.mustSucceed("POLLOFF", e.Controller.DefaultTimeout); err != nil {
		return "", &ConfigError{Controller: e.Controller.Desc.Name, Reason: "POLLOFF: " + err.Error()}
	}
	defer e.mustSucceed("POLLON", e.Controller.DefaultTimeout)

	var b strings.Builder
	b.WriteString("[CONFIG]\n")
	for n := 0; n < MaxConfigLines; n++ {
		cmd := fmt.Sprintf("RCONFIG%04X", n)
		fut, err := e.Controller.Send(cmd, time.Second, false)
		if err != nil {
			return "", err
		}
		lines, err := fut.Wait()
		if err != nil {
			return "", &ConfigError{Controller: e.Controller.Desc.Name, Reason: fmt.Sprintf("%s: %v", cmd, err)}
		}
		if len(lines) == 0 || lines[0] == "" {
			break
		}
		b.WriteString(lines[0])
		b.WriteByte('\n')
	}
	return b.String(), nil
}
