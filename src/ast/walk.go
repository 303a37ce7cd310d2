package ast

// Walk visits n and every node reachable from it, pre-order, calling fn
// once per node. Mirrors the recursive Children-walking style the
// teacher uses for its own syntax tree (see Node.Print in the original
// vslc ir package).
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch v := n.(type) {
	case *Constant, *Primitive, *Variable:
		// leaves
	case *Apply:
		Walk(v.Callee, fn)
		for _, a := range v.Args {
			Walk(a, fn)
		}
	case *IfExpr:
		Walk(v.Test, fn)
		Walk(v.WhenTrue, fn)
		Walk(v.WhenFalse, fn)
	case *Lambda:
		Walk(v.Body, fn)
	}
}

// FindLambdas returns every *Lambda reachable from n, pre-order,
// including n itself if it is a lambda. Duplicate names are folded to
// their first occurrence so that mutually recursive lambdas are each
// declared exactly once.
func FindLambdas(n Node) []*Lambda {
	seen := make(map[string]bool)
	var out []*Lambda
	Walk(n, func(x Node) {
		if lm, ok := x.(*Lambda); ok {
			if !seen[lm.LambdaName] {
				seen[lm.LambdaName] = true
				out = append(out, lm)
			}
		}
	})
	return out
}
