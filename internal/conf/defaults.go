// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "dectris-go")
	viper.SetDefault("main.log.enabled", false)
	viper.SetDefault("main.log.path", "dectris-go.log")
	viper.SetDefault("main.log.level", "info")

	viper.SetDefault("detector.apihost", "localhost")
	viper.SetDefault("detector.apiport", 8910)
	viper.SetDefault("detector.datahost", "localhost")
	viper.SetDefault("detector.dataport", 9999)
	viper.SetDefault("detector.apiversion", "1.8.0")
	viper.SetDefault("detector.timeoutsec", 10)

	viper.SetDefault("acquisition.navshape", []int{256, 256})
	viper.SetDefault("acquisition.triggermode", "exte")
	viper.SetDefault("acquisition.framesperpartition", 1024)

	viper.SetDefault("bench.label", "testudf")
	viper.SetDefault("bench.outputdir", "profiles")
	viper.SetDefault("bench.udf", "sumsig")
	viper.SetDefault("bench.workers", 0)
	viper.SetDefault("bench.profiletopn", 10)
	viper.SetDefault("bench.saveresults", false)
	viper.SetDefault("bench.resultsdb", "benchruns.db")

	viper.SetDefault("sim.fps", 0.0)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "0.0.0.0:8090")
}
