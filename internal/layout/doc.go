// Package layout derives every path of the pipeline tree:
//
//	<pipeline>/input/<character>/<raw file>
//	<pipeline>/input/<character>/<item>/{vocal,inst,slice}/
//	<pipeline>/input/<character>/<item>/<artifact>
//
// and translates host paths to the paths seen inside worker containers, which
// mount the host data root at a fixed container root. All functions are pure;
// nothing here touches the filesystem.
package layout
