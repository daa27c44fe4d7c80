package wisp

// protectFrame is one entry of a thread's protection stack (§4.4
// Protected Calls): it remembers enough to restore the thread to a
// consistent state after an error unwinds past it — the stack top,
// the depth of the call-info chain, and the open-upvalue list, all
// captured at the moment `pcall` enters.
type protectFrame struct {
	savedTop     int
	savedFrames  int
	savedOpenUvs *Upvalue
}

// pushProtection records a restore point before attempting a
// protected call.
func (t *Thread) pushProtection() *protectFrame {
	pf := &protectFrame{
		savedTop:     t.top,
		savedFrames:  len(t.frames),
		savedOpenUvs: t.openUpvalues,
	}
	t.protections = append(t.protections, pf)
	return pf
}

func (t *Thread) popProtection() {
	t.protections = t.protections[:len(t.protections)-1]
}

// unwindTo restores a thread to the state recorded by pf after an
// error has propagated past its call (§4.4: "pcall restores the
// stack top, call-info depth, and open-upvalue list to what they were
// when the protection was entered").
func (t *Thread) unwindTo(pf *protectFrame) {
	t.closeUpvalues(pf.savedTop)
	t.frames = t.frames[:pf.savedFrames]
	t.top = pf.savedTop
	t.openUpvalues = pf.savedOpenUvs
}

// pcall implements §4.5 `pcall(f, args...)`: true plus results on
// success, false plus the raw error value on failure. Go panics that
// are not wispErrors (a host bug, not user code raising an error) are
// re-panicked rather than swallowed, matching the teacher's own
// recover-and-rethrow-unless-ours idiom in errors.go/api.go.
func pcall(t *Thread, fn Value, args []Value) (ok bool, results []Value, errVal Value) {
	pf := t.pushProtection()
	defer t.popProtection()

	defer func() {
		if r := recover(); r != nil {
			we, isWisp := r.(wispError)
			if !isWisp {
				panic(r)
			}
			t.unwindTo(pf)
			ok = false
			if re, isRE := we.(*RuntimeError); isRE {
				errVal = re.Value
			} else {
				errVal = t.global.Intern(we.Error())
			}
		}
	}()

	results, err := call(t, fn, args, -1)
	if err != nil {
		t.unwindTo(pf)
		if re, isRE := err.(*RuntimeError); isRE {
			return false, nil, re.Value
		}
		return false, nil, t.global.Intern(err.Error())
	}
	return true, results, nil
}

// xpcall implements §4.5 `xpcall(f, handler, args...)`: on error, the
// handler runs (still inside the failed call's dynamic extent is not
// preserved across the goroutine-based model here, matching the
// relaxation spec.md's debug-library Non-goals already license) with
// the error value, and its single result replaces the plain error
// value pcall would have returned.
func xpcall(t *Thread, fn, handler Value, args []Value) (ok bool, results []Value, errVal Value) {
	ok, results, errVal = pcall(t, fn, args)
	if ok {
		return true, results, nil
	}
	hres, herr := call(t, handler, []Value{errVal}, 1)
	if herr != nil {
		return false, nil, t.global.Intern("error in error handling")
	}
	if len(hres) > 0 {
		return false, nil, hres[0]
	}
	return false, nil, NilValue
}
