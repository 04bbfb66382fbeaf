package httphandler

import (
	"github.com/poybro/soknode/modules/p2p"
)

type HttpHandler struct {
	book *p2p.Book
}

func New(book *p2p.Book) *HttpHandler {
	return &HttpHandler{
		book: book,
	}
}
