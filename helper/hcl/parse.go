// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package hcl

import (
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

type Parser struct {
	parser  *hclparse.Parser
	decoder *gohcl.Decoder
}

// NewParser returns a new Parser instance which supports decoding
// time.Duration, netip.Prefix and netip.Addr parameters by default.
func NewParser() *Parser {

	// Create our base decoder, so we can register custom decoders on it.
	decoder := &gohcl.Decoder{}

	p := &Parser{
		decoder: decoder,
		parser:  hclparse.NewParser(),
	}

	dur := time.Duration(0)
	p.AddExpressionDecoder(reflect.TypeOf(dur), DecodeDuration)
	p.AddExpressionDecoder(reflect.TypeOf(&dur), DecodeDuration)

	prefix := netip.Prefix{}
	p.AddExpressionDecoder(reflect.TypeOf(prefix), DecodePrefix)
	p.AddExpressionDecoder(reflect.TypeOf(&prefix), DecodePrefix)

	addr := netip.Addr{}
	p.AddExpressionDecoder(reflect.TypeOf(addr), DecodeAddr)
	p.AddExpressionDecoder(reflect.TypeOf(&addr), DecodeAddr)

	return p
}

// AddExpressionDecoder registers fn for values of type t.
func (p *Parser) AddExpressionDecoder(t reflect.Type, fn func(hcl.Expression, *hcl.EvalContext, any) hcl.Diagnostics) {
	p.decoder.RegisterExpressionDecoder(t, fn)
}

func (p *Parser) Parse(src []byte, dst any, filename string) hcl.Diagnostics {

	hclFile, parseDiag := p.parser.ParseHCL(src, filename)

	if parseDiag.HasErrors() {
		return parseDiag
	}

	decodeDiag := p.decoder.DecodeBody(hclFile.Body, nil, dst)
	return decodeDiag
}

// ParseFile reads path and decodes it into dst.
func (p *Parser) ParseFile(path string, dst any) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if diags := p.Parse(src, dst, path); diags.HasErrors() {
		return fmt.Errorf("failed to parse %s: %w", path, diags)
	}
	return nil
}
