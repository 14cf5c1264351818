package launch

import (
	"fmt"
	"strings"
)

// =============================================================================
// Command Construction
// =============================================================================

// DefaultJavaCommand runs JAR artifacts when no override is configured.
const DefaultJavaCommand = "java"

// CommandSpec carries everything BuildCommand needs for one instance.
type CommandSpec struct {
	Artifact     string
	JavaCommand  string
	DebugPort    int
	DebugSuspend bool
}

// BuildCommand returns the argv for one instance process. JAR artifacts run
// under the configured java command with JDWP agent flags when debugging is
// requested; anything else executes directly and learns its debug settings
// from the environment. The suspend flag makes the JVM block before main
// until a debugger attaches, which is what holds such deployments in their
// starting phase.
//
// Example:
//
//	BuildCommand(CommandSpec{Artifact: "/opt/apps/ticker"})
//	// Returns: ["/opt/apps/ticker"]
//
//	BuildCommand(CommandSpec{Artifact: "/opt/apps/app.jar", DebugPort: 5005})
//	// Returns: ["java", "-agentlib:jdwp=transport=dt_socket,server=y,suspend=n,address=*:5005", "-jar", "/opt/apps/app.jar"]
func BuildCommand(spec CommandSpec) []string {
	if !strings.HasSuffix(spec.Artifact, ".jar") {
		return []string{spec.Artifact}
	}

	javaCmd := spec.JavaCommand
	if javaCmd == "" {
		javaCmd = DefaultJavaCommand
	}

	argv := []string{javaCmd}
	if spec.DebugPort > 0 {
		suspend := "n"
		if spec.DebugSuspend {
			suspend = "y"
		}
		argv = append(argv, fmt.Sprintf(
			"-agentlib:jdwp=transport=dt_socket,server=y,suspend=%s,address=*:%d",
			suspend, spec.DebugPort,
		))
	}
	return append(argv, "-jar", spec.Artifact)
}
