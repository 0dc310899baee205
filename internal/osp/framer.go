package osp

type frameState int

const (
	inText frameState = iota
	inOpen
	inStartName
	inStartAttrs
	inEndName
	inEndRest
	inProcInst
	inDecl
	inComment
	inCDATA
	inDoctype
)

const (
	commentPrefix = "--"
	cdataPrefix   = "[CDATA["
)

// Framer finds the end of a request that arrives in chunks. It follows the
// nesting of elements across Write calls and inspects every byte once, so
// a request costs linear work however it is split.
//
// Done turns true when the root element has closed, or when the input is
// broken in a way more bytes cannot repair. Parse remains the authority on
// well-formedness; Framer only decides when to stop reading.
type Framer struct {
	state    frameState
	stack    []string
	name     []byte
	decl     []byte
	quote    byte
	prev     byte
	tail     [2]byte
	brackets int
	rootSeen bool
	done     bool
}

// NewFramer returns a Framer at the start of a request.
func NewFramer() *Framer {
	return &Framer{}
}

// Done reports whether reading can stop.
func (f *Framer) Done() bool {
	return f.done
}

// Write feeds the next chunk. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	for _, c := range p {
		if f.done {
			break
		}
		f.step(c)
	}
	return len(p), nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (f *Framer) step(c byte) {
	switch f.state {
	case inText:
		if c == '<' {
			f.state = inOpen
			return
		}
		if len(f.stack) == 0 && !isSpace(c) {
			f.done = true
		}

	case inOpen:
		switch {
		case c == '/':
			f.name = f.name[:0]
			f.state = inEndName
		case c == '?':
			f.tail = [2]byte{}
			f.state = inProcInst
		case c == '!':
			f.decl = f.decl[:0]
			f.state = inDecl
		case isSpace(c) || c == '>' || c == '<':
			f.done = true
		default:
			f.name = append(f.name[:0], c)
			f.prev = c
			f.state = inStartName
		}

	case inStartName:
		switch {
		case c == '>':
			f.openElement(false)
		case c == '/' || isSpace(c):
			f.prev = c
			f.state = inStartAttrs
		default:
			f.name = append(f.name, c)
		}

	case inStartAttrs:
		if f.quote != 0 {
			if c == f.quote {
				f.quote = 0
			}
			f.prev = c
			return
		}
		switch c {
		case '"', '\'':
			f.quote = c
		case '>':
			f.openElement(f.prev == '/')
			return
		}
		f.prev = c

	case inEndName:
		switch {
		case c == '>':
			f.closeElement()
		case isSpace(c):
			f.state = inEndRest
		default:
			f.name = append(f.name, c)
		}

	case inEndRest:
		if c == '>' {
			f.closeElement()
		} else if !isSpace(c) {
			f.done = true
		}

	case inProcInst:
		if c == '>' && f.tail[1] == '?' {
			f.state = inText
			return
		}
		f.shift(c)

	case inDecl:
		f.decl = append(f.decl, c)
		d := string(f.decl)
		switch {
		case d == commentPrefix:
			f.tail = [2]byte{}
			f.state = inComment
		case d == cdataPrefix:
			f.tail = [2]byte{}
			f.state = inCDATA
		case len(d) <= len(cdataPrefix) && d == cdataPrefix[:len(d)]:
		case len(d) <= len(commentPrefix) && d == commentPrefix[:len(d)]:
		default:
			f.brackets = 0
			f.state = inDoctype
			f.stepDoctype(c)
		}

	case inComment:
		if c == '>' && f.tail == [2]byte{'-', '-'} {
			f.state = inText
			return
		}
		f.shift(c)

	case inCDATA:
		if c == '>' && f.tail == [2]byte{']', ']'} {
			if len(f.stack) == 0 {
				// character data outside the root element
				f.done = true
			}
			f.state = inText
			return
		}
		f.shift(c)

	case inDoctype:
		f.stepDoctype(c)
	}
}

func (f *Framer) stepDoctype(c byte) {
	switch c {
	case '[':
		f.brackets++
	case ']':
		f.brackets--
	case '>':
		if f.brackets <= 0 {
			f.state = inText
		}
	}
}

func (f *Framer) shift(c byte) {
	f.tail[0], f.tail[1] = f.tail[1], c
}

func (f *Framer) openElement(selfClosing bool) {
	f.state = inText
	if len(f.stack) == 0 && f.rootSeen {
		// a second root element
		f.done = true
		return
	}
	f.rootSeen = true
	if selfClosing {
		if len(f.stack) == 0 {
			f.done = true
		}
		return
	}
	f.stack = append(f.stack, string(f.name))
}

func (f *Framer) closeElement() {
	f.state = inText
	top := len(f.stack) - 1
	if top < 0 || f.stack[top] != string(f.name) {
		f.done = true
		return
	}
	f.stack = f.stack[:top]
	if top == 0 {
		f.done = true
	}
}
