package bank

import (
	"fmt"
	"io"
)

// Envelope is a volume envelope.
type Envelope struct {
	Name         string `json:"name"`
	AttackTime   int32  `json:"attackTime"`
	DecayTime    int32  `json:"decayTime"`
	ReleaseTime  int32  `json:"releaseTime"`
	AttackVolume uint8  `json:"attackVolume"`
	DecayVolume  uint8  `json:"decayVolume"`
}

// KeyMap selects the key and velocity range a sound plays for.
type KeyMap struct {
	Name        string `json:"name"`
	VelocityMin uint8  `json:"velocityMin"`
	VelocityMax uint8  `json:"velocityMax"`
	KeyMin      uint8  `json:"keyMin"`
	KeyMax      uint8  `json:"keyMax"`
	KeyBase     uint8  `json:"keyBase"`
	Detune      int8   `json:"detune"`
}

// Wavetable refers to the sample file a sound plays.
type Wavetable struct {
	File string `json:"file"`
}

// Sound is a sample with its envelope and key mapping.
type Sound struct {
	Name         string     `json:"name"`
	Envelope     *Envelope  `json:"envelope,omitempty"`
	KeyMap       *KeyMap    `json:"keymap,omitempty"`
	Wavetable    *Wavetable `json:"wavetable,omitempty"`
	SamplePan    uint8      `json:"pan"`
	SampleVolume uint8      `json:"volume"`
}

// Instrument groups sounds with shared playback parameters.
type Instrument struct {
	Name      string   `json:"name"`
	Volume    uint8    `json:"volume"`
	Pan       uint8    `json:"pan"`
	Priority  uint8    `json:"priority"`
	TremType  uint8    `json:"tremeloType"`
	TremRate  uint8    `json:"tremeloRate"`
	TremDepth uint8    `json:"tremeloDepth"`
	TremDelay uint8    `json:"tremeloDelay"`
	VibType   uint8    `json:"vibratoType"`
	VibRate   uint8    `json:"vibratoRate"`
	VibDepth  uint8    `json:"vibratoDepth"`
	VibDelay  uint8    `json:"vibratoDelay"`
	BendRange int16    `json:"bendRange"`
	Sounds    []*Sound `json:"sounds"`
}

// Bank is a program-indexed set of instruments.
type Bank struct {
	Name        string        `json:"name"`
	SampleRate  uint32        `json:"sampleRate"`
	Percussion  *Instrument   `json:"percussion,omitempty"`
	Instruments []*Instrument `json:"instruments"`
}

// BankFile is the resolved contents of a .inst file.
type BankFile struct {
	Banks []*Bank `json:"banks"`
}

type statement struct {
	key   string
	index int
	value token
	line  int
}

type reference struct {
	line  int
	kind  string
	name  string
	owner string
	bind  func(any)
}

// parseContext carries the state of one .inst parse.
type parseContext struct {
	file string

	banks       []*Bank
	instruments map[string]*Instrument
	sounds      map[string]*Sound
	envelopes   map[string]*Envelope
	keymaps     map[string]*KeyMap
	declared    map[string]int

	refs   []reference
	arrays []func() error
}

func (c *parseContext) errorf(line int, format string, args ...any) error {
	return newParseError(c.file, line, format, args...)
}

// ParseInst reads and resolves a .inst bank description. name is used in
// error messages.
func ParseInst(r io.Reader, name string) (*BankFile, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	c := &parseContext{
		file:        name,
		instruments: make(map[string]*Instrument),
		sounds:      make(map[string]*Sound),
		envelopes:   make(map[string]*Envelope),
		keymaps:     make(map[string]*KeyMap),
		declared:    make(map[string]int),
	}
	p := &parser{lex: newLexer(name, src), ctx: c}
	if err := p.advance(); err != nil {
		return nil, err
	}
	for p.tok.kind != tokEOF {
		if err := p.object(); err != nil {
			return nil, err
		}
	}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	return &BankFile{Banks: c.banks}, nil
}

type parser struct {
	lex *lexer
	tok token
	ctx *parseContext
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expect(kind tokenKind, text string) (token, error) {
	t := p.tok
	if t.kind != kind || text != "" && t.text != text {
		want := kind.String()
		if text != "" {
			want = fmt.Sprintf("%q", text)
		}
		return t, p.ctx.errorf(t.line, "expected %s, got %s", want, t)
	}
	return t, p.advance()
}

// object parses `kind name { statement* }`.
func (p *parser) object() error {
	kindTok, err := p.expect(tokIdent, "")
	if err != nil {
		return err
	}
	nameTok, err := p.expect(tokIdent, "")
	if err != nil {
		return err
	}
	if _, err := p.expect(tokPunct, "{"); err != nil {
		return err
	}
	var stmts []statement
	for !(p.tok.kind == tokPunct && p.tok.text == "}") {
		if p.tok.kind == tokEOF {
			return p.ctx.errorf(p.tok.line, "missing '}' for %s %s", kindTok.text, nameTok.text)
		}
		s, err := p.statement()
		if err != nil {
			return err
		}
		stmts = append(stmts, s)
	}
	if err := p.advance(); err != nil {
		return err
	}
	return p.ctx.declare(kindTok.text, nameTok.text, kindTok.line, stmts)
}

// statement parses `use("file");` or `key [ '[' index ']' ] = value;`.
func (p *parser) statement() (statement, error) {
	keyTok, err := p.expect(tokIdent, "")
	if err != nil {
		return statement{}, err
	}
	s := statement{key: keyTok.text, index: -1, line: keyTok.line}

	if s.key == "use" {
		if _, err := p.expect(tokPunct, "("); err != nil {
			return s, err
		}
		if s.value, err = p.expect(tokString, ""); err != nil {
			return s, err
		}
		if _, err := p.expect(tokPunct, ")"); err != nil {
			return s, err
		}
		_, err = p.expect(tokPunct, ";")
		return s, err
	}

	if p.tok.kind == tokPunct && p.tok.text == "[" {
		if err := p.advance(); err != nil {
			return s, err
		}
		idx, err := p.expect(tokNumber, "")
		if err != nil {
			return s, err
		}
		if idx.num < 0 || idx.num > 0x7FFF {
			return s, p.ctx.errorf(idx.line, "index %d out of range", idx.num)
		}
		s.index = int(idx.num)
		if _, err := p.expect(tokPunct, "]"); err != nil {
			return s, err
		}
	}
	if _, err := p.expect(tokPunct, "="); err != nil {
		return s, err
	}
	switch p.tok.kind {
	case tokNumber, tokIdent, tokString:
		s.value = p.tok
		if err := p.advance(); err != nil {
			return s, err
		}
	default:
		return s, p.ctx.errorf(p.tok.line, "expected value for %s, got %s", s.key, p.tok)
	}
	_, err = p.expect(tokPunct, ";")
	return s, err
}

func (c *parseContext) declare(kind, name string, line int, stmts []statement) error {
	if prev, ok := c.declared[kind+" "+name]; ok {
		return c.errorf(line, "%s %s already defined on line %d", kind, name, prev)
	}
	c.declared[kind+" "+name] = line

	var apply func(statement) error
	switch kind {
	case "bank":
		b := &Bank{Name: name}
		c.banks = append(c.banks, b)
		apply = func(s statement) error { return c.applyBank(b, s) }
	case "instrument":
		inst := &Instrument{Name: name}
		c.instruments[name] = inst
		apply = func(s statement) error { return c.applyInstrument(inst, s) }
	case "sound":
		snd := &Sound{Name: name}
		c.sounds[name] = snd
		apply = func(s statement) error { return c.applySound(snd, s) }
	case "envelope":
		env := &Envelope{Name: name}
		c.envelopes[name] = env
		apply = func(s statement) error { return c.applyEnvelope(env, s) }
	case "keymap":
		km := &KeyMap{Name: name}
		c.keymaps[name] = km
		apply = func(s statement) error { return c.applyKeyMap(km, s) }
	default:
		return c.errorf(line, "unknown object kind %q", kind)
	}
	for _, s := range stmts {
		if s.key == "use" && kind != "sound" {
			return c.errorf(s.line, "use is only valid in a sound")
		}
		if err := apply(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *parseContext) intValue(s statement, min, max int64) (int64, error) {
	if s.index >= 0 {
		return 0, c.errorf(s.line, "%s is not an array", s.key)
	}
	if s.value.kind != tokNumber {
		return 0, c.errorf(s.line, "%s needs a number, got %s", s.key, s.value)
	}
	if s.value.num < min || s.value.num > max {
		return 0, c.errorf(s.line, "%s value %d outside [%d, %d]", s.key, s.value.num, min, max)
	}
	return s.value.num, nil
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~uint8 | ~uint32
}

func setInt[T integer](c *parseContext, s statement, dst *T, min, max int64) error {
	v, err := c.intValue(s, min, max)
	if err != nil {
		return err
	}
	*dst = T(v)
	return nil
}

func setByte(c *parseContext, s statement, dst *uint8) error {
	return setInt(c, s, dst, 0, 0xFF)
}

// ref queues a reference to a named object, resolved after the whole file is read.
func (c *parseContext) ref(s statement, kind, owner string, bind func(any)) error {
	if s.value.kind != tokIdent {
		return c.errorf(s.line, "%s needs a %s name, got %s", s.key, kind, s.value)
	}
	c.refs = append(c.refs, reference{line: s.line, kind: kind, name: s.value.text, owner: owner, bind: bind})
	return nil
}

// slot returns the array position a statement assigns to, growing the array
// as needed. A statement without an index appends.
func slot[T any](arr *[]*T, s statement) int {
	i := s.index
	if i < 0 {
		i = len(*arr)
	}
	for len(*arr) <= i {
		*arr = append(*arr, nil)
	}
	return i
}

func (c *parseContext) applyBank(b *Bank, s statement) error {
	switch s.key {
	case "sampleRate":
		return setInt(c, s, &b.SampleRate, 1, 0xFFFFFFFF)
	case "percussionDefault", "percussion":
		return c.ref(s, "instrument", "bank "+b.Name, func(v any) { b.Percussion = v.(*Instrument) })
	case "instrument", "program":
		i := slot(&b.Instruments, s)
		c.checkFilled(s.line, "bank "+b.Name, "instrument", func() int { return len(b.Instruments) }, func(i int) bool { return b.Instruments[i] != nil })
		return c.ref(s, "instrument", "bank "+b.Name, func(v any) { b.Instruments[i] = v.(*Instrument) })
	}
	return c.errorf(s.line, "unknown bank attribute %q", s.key)
}

func (c *parseContext) applyInstrument(inst *Instrument, s statement) error {
	switch s.key {
	case "volume":
		return setByte(c, s, &inst.Volume)
	case "pan":
		return setByte(c, s, &inst.Pan)
	case "priority":
		return setByte(c, s, &inst.Priority)
	case "tremeloType":
		return setByte(c, s, &inst.TremType)
	case "tremeloRate":
		return setByte(c, s, &inst.TremRate)
	case "tremeloDepth":
		return setByte(c, s, &inst.TremDepth)
	case "tremeloDelay":
		return setByte(c, s, &inst.TremDelay)
	case "vibratoType":
		return setByte(c, s, &inst.VibType)
	case "vibratoRate":
		return setByte(c, s, &inst.VibRate)
	case "vibratoDepth":
		return setByte(c, s, &inst.VibDepth)
	case "vibratoDelay":
		return setByte(c, s, &inst.VibDelay)
	case "bendRange":
		return setInt(c, s, &inst.BendRange, -0x8000, 0x7FFF)
	case "sound":
		i := slot(&inst.Sounds, s)
		c.checkFilled(s.line, "instrument "+inst.Name, "sound", func() int { return len(inst.Sounds) }, func(i int) bool { return inst.Sounds[i] != nil })
		return c.ref(s, "sound", "instrument "+inst.Name, func(v any) { inst.Sounds[i] = v.(*Sound) })
	}
	return c.errorf(s.line, "unknown instrument attribute %q", s.key)
}

func (c *parseContext) applySound(snd *Sound, s statement) error {
	switch s.key {
	case "use":
		if snd.Wavetable != nil {
			return c.errorf(s.line, "sound %s already uses %s", snd.Name, snd.Wavetable.File)
		}
		snd.Wavetable = &Wavetable{File: s.value.text}
		return nil
	case "pan":
		return setByte(c, s, &snd.SamplePan)
	case "volume":
		return setByte(c, s, &snd.SampleVolume)
	case "envelope":
		return c.ref(s, "envelope", "sound "+snd.Name, func(v any) { snd.Envelope = v.(*Envelope) })
	case "keymap":
		return c.ref(s, "keymap", "sound "+snd.Name, func(v any) { snd.KeyMap = v.(*KeyMap) })
	}
	return c.errorf(s.line, "unknown sound attribute %q", s.key)
}

func (c *parseContext) applyEnvelope(env *Envelope, s statement) error {
	switch s.key {
	case "attackTime":
		return setInt(c, s, &env.AttackTime, -1, 0x7FFFFFFF)
	case "decayTime":
		return setInt(c, s, &env.DecayTime, -1, 0x7FFFFFFF)
	case "releaseTime":
		return setInt(c, s, &env.ReleaseTime, -1, 0x7FFFFFFF)
	case "attackVolume":
		return setInt(c, s, &env.AttackVolume, 0, 0x7F)
	case "decayVolume":
		return setInt(c, s, &env.DecayVolume, 0, 0x7F)
	}
	return c.errorf(s.line, "unknown envelope attribute %q", s.key)
}

func (c *parseContext) applyKeyMap(km *KeyMap, s statement) error {
	switch s.key {
	case "velocityMin":
		return setInt(c, s, &km.VelocityMin, 0, 0x7F)
	case "velocityMax":
		return setInt(c, s, &km.VelocityMax, 0, 0x7F)
	case "keyMin":
		return setInt(c, s, &km.KeyMin, 0, 0x7F)
	case "keyMax":
		return setInt(c, s, &km.KeyMax, 0, 0x7F)
	case "keyBase":
		return setInt(c, s, &km.KeyBase, 0, 0x7F)
	case "detune":
		return setInt(c, s, &km.Detune, -100, 100)
	}
	return c.errorf(s.line, "unknown keymap attribute %q", s.key)
}

// checkFilled queues a check that an indexed array has no gaps once all
// references are bound.
func (c *parseContext) checkFilled(line int, owner, what string, length func() int, filled func(int) bool) {
	c.arrays = append(c.arrays, func() error {
		for i := 0; i < length(); i++ {
			if !filled(i) {
				return c.errorf(line, "%s has no %s[%d]", owner, what, i)
			}
		}
		return nil
	})
}

// resolve binds every queued reference to its target object.
func (c *parseContext) resolve() error {
	for _, r := range c.refs {
		var target any
		var ok bool
		switch r.kind {
		case "instrument":
			target, ok = c.instruments[r.name]
		case "sound":
			target, ok = c.sounds[r.name]
		case "envelope":
			target, ok = c.envelopes[r.name]
		case "keymap":
			target, ok = c.keymaps[r.name]
		}
		if !ok {
			return c.errorf(r.line, "%s refers to unknown %s %q", r.owner, r.kind, r.name)
		}
		r.bind(target)
	}
	for _, check := range c.arrays {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}
