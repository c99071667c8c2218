/*
Package qvd reads QVD table dumps: a textual table header followed by
per-field symbol tables and a bit-packed row table.

# Data Structure Documentation

# File

A file starts with an XML header which ends with a closing
</QvdTableHeader> tag, optionally padded by CR, LF or NUL bytes. The
first byte after the padding is the base position; all offsets in the
header are relative to it.

	File layout:
	+--------------+---------+------------------+-----+------------------+-----------+
	| XML header   | padding | symbol table 1   | ... | symbol table n   | row table |
	+--------------+---------+------------------+-----+------------------+-----------+
	                         ^ base position      ^ base + field Offset  ^ base + table Offset

# Symbol Table

A symbol table is a series of variable length records, each starting
with a single-byte type tag. Records can only be read sequentially.

	+-----+--------------------------------------------------+---------+
	| tag | payload                                          | value   |
	+-----+--------------------------------------------------+---------+
	|  1  | int32 (4 bytes, little-endian)                   | integer |
	|  2  | float64 (8 bytes, little-endian)                 | float   |
	|  4  | UTF-8 string, NUL terminated                     | string  |
	|  5  | int32 (ignored) + UTF-8 string, NUL terminated   | string  |
	|  6  | float64 (ignored) + UTF-8 string, NUL terminated | string  |
	+-----+--------------------------------------------------+---------+

# Row Table

The row table holds NoOfRecords records of RecordByteSize bytes each.
Once its bytes are reversed, a record is a big-endian bit string where
each packed field owns BitWidth bits, starting BitOffset bits from the
right. The field with BitOffset 0 is the rightmost one.

	Reversed record (RecordByteSize = 3, mask "uint:6,uint:5,uint:5,uint:8"):
	+----------------+----------------+----------------+----------------+
	| field 1 (6bit) | field 2 (5bit) | field 3 (5bit) | field 4 (8bit) |
	+----------------+----------------+----------------+----------------+
	  BitOffset 18     BitOffset 13     BitOffset 8      BitOffset 0

A slot holds a symbol index. The field's Bias is added to it before the
lookup; a negative result denotes a null. Fields with a BitWidth of 0
are not stored in the row and always resolve to symbol 0.
*/
package qvd
