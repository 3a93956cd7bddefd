// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package hcl

import (
	"fmt"
	"net/netip"
	"reflect"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// DecodeDuration is the decode function for time.Duration types. It supports
// both string and numeric values. String values are parsed using
// time.ParseDuration. Numeric values are expected to be in nanoseconds.
func DecodeDuration(expr hcl.Expression, ctx *hcl.EvalContext, val any) hcl.Diagnostics {
	srcVal, diags := expr.Value(ctx)

	if srcVal.Type() == cty.String {
		dur, err := time.ParseDuration(srcVal.AsString())
		if err != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unsuitable value type",
				Detail:   fmt.Sprintf("Unsuitable duration value: %s", err.Error()),
				Subject:  expr.StartRange().Ptr(),
				Context:  expr.Range().Ptr(),
			})
			return diags
		}

		srcVal = cty.NumberIntVal(int64(dur))
	}

	if srcVal.Type() != cty.Number {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unsuitable value type",
			Detail:   fmt.Sprintf("Unsuitable value: expected a string but found %s", srcVal.Type()),
			Subject:  expr.StartRange().Ptr(),
			Context:  expr.Range().Ptr(),
		})
		return diags
	}

	err := gocty.FromCtyValue(srcVal, val)
	if err != nil {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unsuitable value type",
			Detail:   fmt.Sprintf("Unsuitable value: %s", err.Error()),
			Subject:  expr.StartRange().Ptr(),
			Context:  expr.Range().Ptr(),
		})
	}

	return diags
}

// DecodePrefix is the decode function for netip.Prefix types. Values must be
// strings in CIDR notation, such as "10.200.1.1/24".
func DecodePrefix(expr hcl.Expression, ctx *hcl.EvalContext, val any) hcl.Diagnostics {
	return decodeText(expr, ctx, val, func(s string) (any, error) {
		return netip.ParsePrefix(s)
	})
}

// DecodeAddr is the decode function for netip.Addr types. Values must be
// strings holding an IPv4 or IPv6 address.
func DecodeAddr(expr hcl.Expression, ctx *hcl.EvalContext, val any) hcl.Diagnostics {
	return decodeText(expr, ctx, val, func(s string) (any, error) {
		return netip.ParseAddr(s)
	})
}

// decodeText parses a string expression with parse and stores the result in
// val, which must be a pointer to the parsed type or a pointer to a pointer
// of it.
func decodeText(expr hcl.Expression, ctx *hcl.EvalContext, val any, parse func(string) (any, error)) hcl.Diagnostics {
	srcVal, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return diags
	}

	if srcVal.Type() != cty.String {
		return append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unsuitable value type",
			Detail:   fmt.Sprintf("Unsuitable value: expected a string but found %s", srcVal.Type()),
			Subject:  expr.StartRange().Ptr(),
			Context:  expr.Range().Ptr(),
		})
	}

	parsed, err := parse(srcVal.AsString())
	if err != nil {
		return append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unsuitable value",
			Detail:   fmt.Sprintf("Unsuitable value: %s", err.Error()),
			Subject:  expr.StartRange().Ptr(),
			Context:  expr.Range().Ptr(),
		})
	}

	dst := reflect.ValueOf(val).Elem()
	if dst.Kind() == reflect.Pointer {
		ptr := reflect.New(dst.Type().Elem())
		dst.Set(ptr)
		dst = ptr.Elem()
	}
	dst.Set(reflect.ValueOf(parsed))
	return diags
}
