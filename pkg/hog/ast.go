package hog

type node interface {
	position() Pos
}

type expr interface {
	node
	exprNode()
}

type stmt interface {
	node
	stmtNode()
}

type (
	literalExpr struct {
		pos Pos
		val Value
	}

	identExpr struct {
		pos  Pos
		name string
	}

	fstringExpr struct {
		pos   Pos
		parts []expr
	}

	listExpr struct {
		pos   Pos
		items []expr
	}

	tupleExpr struct {
		pos   Pos
		items []expr
	}

	dictExpr struct {
		pos  Pos
		keys []expr
		vals []expr
	}

	memberExpr struct {
		pos      Pos
		obj      expr
		name     string
		nullSafe bool
	}

	indexExpr struct {
		pos      Pos
		obj      expr
		index    expr
		nullSafe bool
	}

	callExpr struct {
		pos    Pos
		callee expr
		args   []expr
	}

	unaryExpr struct {
		pos Pos
		op  string
		x   expr
	}

	binaryExpr struct {
		pos Pos
		op  string
		l   expr
		r   expr
	}

	ternaryExpr struct {
		pos  Pos
		cond expr
		then expr
		els  expr
	}
)

func (e *literalExpr) position() Pos { return e.pos }
func (e *identExpr) position() Pos   { return e.pos }
func (e *fstringExpr) position() Pos { return e.pos }
func (e *listExpr) position() Pos    { return e.pos }
func (e *tupleExpr) position() Pos   { return e.pos }
func (e *dictExpr) position() Pos    { return e.pos }
func (e *memberExpr) position() Pos  { return e.pos }
func (e *indexExpr) position() Pos   { return e.pos }
func (e *callExpr) position() Pos    { return e.pos }
func (e *unaryExpr) position() Pos   { return e.pos }
func (e *binaryExpr) position() Pos  { return e.pos }
func (e *ternaryExpr) position() Pos { return e.pos }

func (*literalExpr) exprNode() {}
func (*identExpr) exprNode()   {}
func (*fstringExpr) exprNode() {}
func (*listExpr) exprNode()    {}
func (*tupleExpr) exprNode()   {}
func (*dictExpr) exprNode()    {}
func (*memberExpr) exprNode()  {}
func (*indexExpr) exprNode()   {}
func (*callExpr) exprNode()    {}
func (*unaryExpr) exprNode()   {}
func (*binaryExpr) exprNode()  {}
func (*ternaryExpr) exprNode() {}

type (
	blockStmt struct {
		pos   Pos
		stmts []stmt
	}

	letStmt struct {
		pos   Pos
		name  string
		value expr
	}

	assignStmt struct {
		pos    Pos
		target expr
		value  expr
	}

	exprStmt struct {
		pos Pos
		x   expr
	}

	ifStmt struct {
		pos  Pos
		cond expr
		then stmt
		els  stmt
	}

	whileStmt struct {
		pos  Pos
		cond expr
		body stmt
	}

	forInStmt struct {
		pos     Pos
		keyName string
		valName string
		iter    expr
		body    stmt
	}

	forStmt struct {
		pos  Pos
		init stmt
		cond expr
		step stmt
		body stmt
	}

	returnStmt struct {
		pos   Pos
		value expr
	}

	breakStmt struct {
		pos Pos
	}

	continueStmt struct {
		pos Pos
	}

	funStmt struct {
		pos    Pos
		name   string
		params []string
		body   *blockStmt
	}
)

func (s *blockStmt) position() Pos    { return s.pos }
func (s *letStmt) position() Pos      { return s.pos }
func (s *assignStmt) position() Pos   { return s.pos }
func (s *exprStmt) position() Pos     { return s.pos }
func (s *ifStmt) position() Pos       { return s.pos }
func (s *whileStmt) position() Pos    { return s.pos }
func (s *forInStmt) position() Pos    { return s.pos }
func (s *forStmt) position() Pos      { return s.pos }
func (s *returnStmt) position() Pos   { return s.pos }
func (s *breakStmt) position() Pos    { return s.pos }
func (s *continueStmt) position() Pos { return s.pos }
func (s *funStmt) position() Pos      { return s.pos }

func (*blockStmt) stmtNode()    {}
func (*letStmt) stmtNode()      {}
func (*assignStmt) stmtNode()   {}
func (*exprStmt) stmtNode()     {}
func (*ifStmt) stmtNode()       {}
func (*whileStmt) stmtNode()    {}
func (*forInStmt) stmtNode()    {}
func (*forStmt) stmtNode()      {}
func (*returnStmt) stmtNode()   {}
func (*breakStmt) stmtNode()    {}
func (*continueStmt) stmtNode() {}
func (*funStmt) stmtNode()      {}

// walk visits n and every node below it in source order.
func walk(n node, fn func(node)) {
	if n == nil {
		return
	}
	fn(n)
	switch n := n.(type) {
	case *fstringExpr:
		for _, p := range n.parts {
			walk(p, fn)
		}
	case *listExpr:
		for _, it := range n.items {
			walk(it, fn)
		}
	case *tupleExpr:
		for _, it := range n.items {
			walk(it, fn)
		}
	case *dictExpr:
		for i := range n.keys {
			walk(n.keys[i], fn)
			walk(n.vals[i], fn)
		}
	case *memberExpr:
		walk(n.obj, fn)
	case *indexExpr:
		walk(n.obj, fn)
		walk(n.index, fn)
	case *callExpr:
		walk(n.callee, fn)
		for _, a := range n.args {
			walk(a, fn)
		}
	case *unaryExpr:
		walk(n.x, fn)
	case *binaryExpr:
		walk(n.l, fn)
		walk(n.r, fn)
	case *ternaryExpr:
		walk(n.cond, fn)
		walk(n.then, fn)
		walk(n.els, fn)
	case *blockStmt:
		for _, s := range n.stmts {
			walk(s, fn)
		}
	case *letStmt:
		walkExpr(n.value, fn)
	case *assignStmt:
		walk(n.target, fn)
		walk(n.value, fn)
	case *exprStmt:
		walk(n.x, fn)
	case *ifStmt:
		walk(n.cond, fn)
		walkStmt(n.then, fn)
		walkStmt(n.els, fn)
	case *whileStmt:
		walk(n.cond, fn)
		walkStmt(n.body, fn)
	case *forInStmt:
		walk(n.iter, fn)
		walkStmt(n.body, fn)
	case *forStmt:
		walkStmt(n.init, fn)
		walkExpr(n.cond, fn)
		walkStmt(n.step, fn)
		walkStmt(n.body, fn)
	case *returnStmt:
		walkExpr(n.value, fn)
	case *funStmt:
		walk(n.body, fn)
	}
}

// Typed nil interfaces would otherwise reach fn.
func walkExpr(e expr, fn func(node)) {
	if e != nil {
		walk(e, fn)
	}
}

func walkStmt(s stmt, fn func(node)) {
	if s != nil {
		walk(s, fn)
	}
}
