package rtc

import "github.com/bytedance/sonic"

// codec decodes method-specific response payloads. ConfigStd matches
// encoding/json semantics, same as the wire codec in core/channel.
var codec = sonic.ConfigStd
