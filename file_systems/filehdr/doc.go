/*
Package filehdr implements the NachOS file header, a minimal inode that maps a
file's byte offsets to the sectors holding its data.

A header occupies exactly one sector and holds the file's length, the number
of data sectors, NumDirect direct sector pointers and two indirection
pointers. Logical sectors are covered by three tiers:

	[0, NumDirect)                                      direct pointers
	[NumDirect, NumDirect+NumIndirect)                  single indirection block
	[NumDirect+NumIndirect, NumDirect+NumIndirect*(1+NumIndirect))
	                                                    double indirection block

Each tier is filled completely, in order, before the next one is started. A
file's size is fixed when it's allocated; there's no way to grow or shrink it
afterwards.

Nothing is cached. Every translation through an indirection tier reads the
indirection blocks from the device again.
*/
package filehdr
