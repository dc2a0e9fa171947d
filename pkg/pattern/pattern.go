// Package pattern parses operator-supplied address patterns and evaluates
// candidate addresses against them.
//
// Grammar, tried in order on a single token:
//
//	lead...trail     Advanced: either side optional, each side "hex" or "(hex|hex|...)"
//	(a|b)c           Regex:    any token with '|' and a parenthesis, anchored ^...$
//	                           against the 40-char lowercase hex address
//	abcd             Prefix:   raw byte prefix
//
// Hex that fails to decode never aborts Parse. It is reported as a warning and
// replaced: a bad prefix becomes the empty prefix, which matches every address.
// ParseStrict turns those warnings into an error.
package pattern

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/screa/create3-miner/internal/crypto"
)

const (
	advancedSeparator = "..."
	// MaxPrefixLen is the longest prefix the GPU pattern buffer holds
	MaxPrefixLen = 32
)

var (
	ErrInvalidHex     = errors.New("invalid hex in pattern")
	ErrInvalidRegex   = errors.New("invalid regex pattern")
	ErrNoAlternatives = errors.New("pattern group has no decodable alternatives")
	ErrTooLong        = errors.New("pattern piece is longer than an address")
	ErrUnknownVariant = errors.New("unknown pattern variant")
)

// Kind tags the pattern variants. Values are shared with the GPU kernel.
type Kind uint32

const (
	KindPrefix Kind = iota
	KindRegex
	KindAdvanced
)

func (k Kind) String() string {
	switch k {
	case KindPrefix:
		return "prefix"
	case KindRegex:
		return "regex"
	case KindAdvanced:
		return "advanced"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Pattern is one of Prefix, *Regex or Advanced.
type Pattern interface {
	isPattern()
}

// Prefix matches addresses whose raw bytes start with it.
type Prefix []byte

// Regex matches the full lowercase hex text of an address.
type Regex struct {
	re *regexp.Regexp
}

// Advanced constrains the leading and/or trailing bytes. A nil side is
// unconstrained; a non-nil side needs at least one alternative to match.
type Advanced struct {
	Leading  [][]byte
	Trailing [][]byte
}

func (Prefix) isPattern()   {}
func (*Regex) isPattern()   {}
func (Advanced) isPattern() {}

// String returns the anchored expression source.
func (r *Regex) String() string { return r.re.String() }

// Parse parses text into a Pattern. It always returns a usable pattern; the
// returned warnings describe every fallback that weakened it.
func Parse(text string) (Pattern, []error) {
	var p parser
	return p.parse(text), p.warnings
}

// ParseStrict is Parse with every warning promoted to an error.
func ParseStrict(text string) (Pattern, error) {
	pat, warnings := Parse(text)
	if len(warnings) > 0 {
		return nil, errors.Join(warnings...)
	}
	return pat, nil
}

type parser struct {
	warnings []error
}

func (p *parser) warn(err error) {
	p.warnings = append(p.warnings, err)
}

func (p *parser) parse(text string) Pattern {
	if lead, trail, ok := strings.Cut(text, advancedSeparator); ok {
		var adv Advanced
		if lead != "" {
			adv.Leading = p.parseGroup(lead)
		}
		if trail != "" {
			adv.Trailing = p.parseGroup(trail)
		}
		return adv
	}

	if strings.Contains(text, "|") && strings.ContainsAny(text, "()") {
		re, err := regexp.Compile("^" + text + "$")
		if err == nil {
			return &Regex{re: re}
		}
		p.warn(fmt.Errorf("%w %q: %v, falling back to prefix match", ErrInvalidRegex, text, err))
	}

	return p.decodePrefix(text)
}

func (p *parser) decodePrefix(text string) Prefix {
	b, err := crypto.DecodeHex(text)
	if err != nil {
		p.warn(fmt.Errorf("%w %q: %v, assuming empty pattern", ErrInvalidHex, text, err))
		return Prefix{}
	}
	if text != "" {
		p.checkPiece(text, b)
	}
	return Prefix(b)
}

// checkPiece warns about decoded pieces that constrain nothing or can never
// match. The piece is kept as is.
func (p *parser) checkPiece(text string, b []byte) {
	switch {
	case len(b) == 0:
		p.warn(fmt.Errorf("%w %q: no hex digits, matches every address", ErrInvalidHex, text))
	case len(b) > common.AddressLength:
		p.warn(fmt.Errorf("%w: %q is %d bytes, addresses are %d", ErrTooLong, text, len(b), common.AddressLength))
	}
}

// parseGroup parses one side of an Advanced pattern. The result is never nil,
// so a side whose alternatives all fail to decode matches nothing.
func (p *parser) parseGroup(text string) [][]byte {
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") && strings.Contains(text, "|") {
		options := make([][]byte, 0)
		for _, opt := range strings.Split(text[1:len(text)-1], "|") {
			b, err := crypto.DecodeHex(opt)
			if err != nil {
				p.warn(fmt.Errorf("%w %q: %v, dropping alternative", ErrInvalidHex, opt, err))
				continue
			}
			p.checkPiece(opt, b)
			options = append(options, b)
		}
		if len(options) == 0 {
			p.warn(fmt.Errorf("%w: %q", ErrNoAlternatives, text))
		}
		return options
	}

	b, err := crypto.DecodeHex(text)
	if err != nil {
		p.warn(fmt.Errorf("%w %q: %v", ErrInvalidHex, text, err))
		return [][]byte{}
	}
	p.checkPiece(text, b)
	return [][]byte{b}
}

// Match reports whether addr satisfies pat.
func Match(pat Pattern, addr *common.Address) bool {
	switch p := pat.(type) {
	case Prefix:
		return hasPrefix(addr, p)
	case *Regex:
		var buf [2 * common.AddressLength]byte
		hex.Encode(buf[:], addr[:])
		return p.re.Match(buf[:])
	case Advanced:
		if p.Leading != nil && !lo.SomeBy(p.Leading, func(opt []byte) bool { return hasPrefix(addr, opt) }) {
			return false
		}
		if p.Trailing != nil && !lo.SomeBy(p.Trailing, func(opt []byte) bool { return hasSuffix(addr, opt) }) {
			return false
		}
		return true
	}
	panic(fmt.Errorf("%w: %T", ErrUnknownVariant, pat))
}

func hasPrefix(addr *common.Address, p []byte) bool {
	if len(p) > common.AddressLength {
		return false
	}
	for i, b := range p {
		if addr[i] != b {
			return false
		}
	}
	return true
}

func hasSuffix(addr *common.Address, s []byte) bool {
	if len(s) > common.AddressLength {
		return false
	}
	off := common.AddressLength - len(s)
	for i, b := range s {
		if addr[off+i] != b {
			return false
		}
	}
	return true
}

// KindOf returns the variant tag of pat.
func KindOf(pat Pattern) Kind {
	switch pat.(type) {
	case Prefix:
		return KindPrefix
	case *Regex:
		return KindRegex
	case Advanced:
		return KindAdvanced
	}
	panic(fmt.Errorf("%w: %T", ErrUnknownVariant, pat))
}

// ProjectGPU reduces pat to the prefix the GPU kernel can enforce. Every
// variant other than Prefix projects to an empty prefix.
func ProjectGPU(pat Pattern) ([]byte, int) {
	switch p := pat.(type) {
	case Prefix:
		return append([]byte(nil), p...), len(p)
	case *Regex, Advanced:
		return nil, 0
	}
	panic(fmt.Errorf("%w: %T", ErrUnknownVariant, pat))
}

// Describe renders pat for operators.
func Describe(pat Pattern) string {
	switch p := pat.(type) {
	case Prefix:
		return "addresses starting with: 0x" + hex.EncodeToString(p)
	case *Regex:
		return "addresses matching regex: " + p.String()
	case Advanced:
		var parts []string
		if p.Leading != nil {
			parts = append(parts, "leading: "+joinOptions(p.Leading))
		}
		if p.Trailing != nil {
			parts = append(parts, "trailing: "+joinOptions(p.Trailing))
		}
		return "addresses with " + strings.Join(parts, " and ")
	}
	panic(fmt.Errorf("%w: %T", ErrUnknownVariant, pat))
}

func joinOptions(options [][]byte) string {
	return strings.Join(lo.Map(options, func(b []byte, _ int) string {
		return "0x" + hex.EncodeToString(b)
	}), " or ")
}
