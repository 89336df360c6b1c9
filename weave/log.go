package weave

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("stmweave.weave")
