package simbackend

import "distcomm/pgapi"

// Copier is a CPU reference pgapi.Copier: a plain element-wise slice copy.
type Copier struct{}

func NewCopier() Copier { return Copier{} }

func (Copier) Copy(dst, src pgapi.Tensor) error {
	if dst.NumElem() != src.NumElem() {
		return pgapi.Newf(pgapi.InvalidArgument,
			"simbackend: copy numel mismatch dst=%d src=%d", dst.NumElem(), src.NumElem())
	}
	d, ok := dst.(*Tensor)
	if !ok {
		return pgapi.Newf(pgapi.DriverError, "simbackend: copy dst %T is not a *simbackend.Tensor", dst)
	}
	s, ok := src.(*Tensor)
	if !ok {
		return pgapi.Newf(pgapi.DriverError, "simbackend: copy src %T is not a *simbackend.Tensor", src)
	}
	copy(d.Data(), s.Data())
	return nil
}
