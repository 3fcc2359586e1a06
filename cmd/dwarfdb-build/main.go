// Command dwarfdb-build is a placeholder entry point. Wiring it to a
// real source of geolocated radio-identifier records (input parsing,
// flags, output file selection) is out of scope here; the pipeline it
// would drive lives in github.com/ndl/dwarf-idea-tools/builder.
package main

func main() {
}
